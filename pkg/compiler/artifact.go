// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"github.com/gomlx/kernelc/backends/codegen"
	"github.com/gomlx/kernelc/backends/isel"
	"github.com/gomlx/kernelc/backends/vectorize"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Artifact is the result of a successful compilation.
type Artifact struct {
	// ID is unique per compilation, even for identical inputs.
	ID string `msgpack:"id"`

	Kernel string `msgpack:"kernel"`

	// Target the kernel was compiled for, as rendered by target.Descriptor.String.
	Target string `msgpack:"target"`

	Options passes.Options `msgpack:"options"`

	// IR is the text of the kernel after all passes, annotations included.
	IR string `msgpack:"ir"`

	// Listing is the text of the target instructions.
	Listing string `msgpack:"listing"`

	Metadata Metadata `msgpack:"metadata"`
}

// Metadata summarizes the decisions of the backend passes.
type Metadata struct {
	Dots         []DotMetadata    `msgpack:"dots" yaml:"dots,omitempty"`
	Memory       []MemoryMetadata `msgpack:"memory" yaml:"memory,omitempty"`
	SharedMemory int64            `msgpack:"shared_memory" yaml:"shared_memory"`
	NumWarps     int              `msgpack:"num_warps" yaml:"num_warps"`
}

// DotMetadata is the encoding selected for one dot operation.
type DotMetadata struct {
	Value       string `msgpack:"value" yaml:"value"`
	Loc         string `msgpack:"loc" yaml:"loc"`
	Encoding    string `msgpack:"encoding" yaml:"encoding"`
	Instr       string `msgpack:"instr" yaml:"instr"`
	InstrShape  string `msgpack:"instr_shape" yaml:"instr_shape"`
	Conversions int    `msgpack:"conversions" yaml:"conversions"`
}

// MemoryMetadata is the vector width selected for one load or store.
type MemoryMetadata struct {
	Op      string `msgpack:"op" yaml:"op"`
	Loc     string `msgpack:"loc" yaml:"loc"`
	Width   int    `msgpack:"width" yaml:"width"`
	Skipped string `msgpack:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// newArtifact collects the results of the passes over fn.
func newArtifact(fn *ir.Function, tgt string, options passes.Options, listing *codegen.Listing) *Artifact {
	a := &Artifact{
		ID:      uuid.NewString(),
		Kernel:  fn.Name,
		Target:  tgt,
		Options: options,
		IR:      fn.String(),
		Listing: listing.String(),
		Metadata: Metadata{
			SharedMemory: listing.SharedMemory,
			NumWarps:     options.NumWarps,
		},
	}
	for _, op := range fn.Ops {
		switch op.Code {
		case ir.OpDot:
			dot := DotMetadata{Value: op.Result().Name(), Loc: op.Loc.String()}
			dot.Encoding, _ = op.Annotations.Str(isel.AnnotationEncoding)
			dot.Instr, _ = op.Annotations.Str(isel.AnnotationInstr)
			dot.InstrShape, _ = op.Annotations.Str(isel.AnnotationInstrShape)
			dot.Conversions, _ = op.Annotations.Int(isel.AnnotationConversions)
			a.Metadata.Dots = append(a.Metadata.Dots, dot)
		case ir.OpLoad, ir.OpStore:
			mem := MemoryMetadata{Op: op.Code.String(), Loc: op.Loc.String()}
			mem.Width, _ = op.Annotations.Int(vectorize.AnnotationWidth)
			mem.Skipped, _ = op.Annotations.Str(vectorize.AnnotationSkipped)
			a.Metadata.Memory = append(a.Metadata.Memory, mem)
		default:
		}
	}
	return a
}

// MemoryWidths returns the vector width of each load and store, in program order.
func (a *Artifact) MemoryWidths() []int {
	widths := make([]int, len(a.Metadata.Memory))
	for ii, mem := range a.Metadata.Memory {
		widths[ii] = mem.Width
	}
	return widths
}

// Encode the artifact with msgpack.
func (a *Artifact) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding artifact of kernel %q", a.Kernel)
	}
	return data, nil
}

// DecodeArtifact decodes an artifact encoded with Artifact.Encode.
func DecodeArtifact(data []byte) (*Artifact, error) {
	a := &Artifact{}
	if err := msgpack.Unmarshal(data, a); err != nil {
		return nil, errors.Wrap(err, "decoding artifact")
	}
	return a, nil
}

// MetadataYAML renders the metadata of the artifact, preceded by its identification, as YAML.
func (a *Artifact) MetadataYAML() ([]byte, error) {
	doc := struct {
		ID       string `yaml:"id"`
		Kernel   string `yaml:"kernel"`
		Target   string `yaml:"target"`
		Metadata `yaml:",inline"`
	}{a.ID, a.Kernel, a.Target, a.Metadata}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, errors.Wrapf(err, "rendering metadata of kernel %q", a.Kernel)
	}
	return data, nil
}
