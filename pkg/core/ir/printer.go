// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/kernelc/pkg/support/xslices"
)

// String renders the operation in the IR text form, e.g.:
//
//	%12 = dot %10, %11, %9 {input_precision = tf32} : (tensor<32x128xf32>, tensor<128x32xf32>, tensor<32x32xf32>) -> tensor<32x32xf32> loc("matmul_kernel":15:12)
//
// This is the only rendering of an operation: IR dumps and diagnostic notes both use it.
func (op *Operation) String() string {
	var sb strings.Builder
	if op.result != nil {
		sb.WriteString(op.result.Name())
		sb.WriteString(" = ")
	}
	sb.WriteString(op.Code.String())
	if len(op.Operands) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(xslices.Map(op.Operands, (*Value).Name), ", "))
	}
	if dict := op.attrDict(); dict != "" {
		sb.WriteString(" {")
		sb.WriteString(dict)
		sb.WriteByte('}')
	}
	sb.WriteString(" : (")
	sb.WriteString(strings.Join(xslices.Map(op.Operands, func(v *Value) string { return v.typ.String() }), ", "))
	sb.WriteString(") -> ")
	if op.result != nil {
		sb.WriteString(op.result.typ.String())
	} else {
		sb.WriteString("()")
	}
	sb.WriteByte(' ')
	sb.WriteString(op.Loc.String())
	return sb.String()
}

// attrDict joins the static attributes and the annotations, the latter sorted by key.
func (op *Operation) attrDict() string {
	var parts []string
	if op.Attrs != nil {
		if s := op.Attrs.String(); s != "" {
			parts = append(parts, s)
		}
	}
	for _, key := range xslices.SortedKeys(op.Annotations) {
		value := op.Annotations[key]
		if s, ok := value.(string); ok {
			parts = append(parts, fmt.Sprintf("%s = %q", key, s))
		} else {
			parts = append(parts, fmt.Sprintf("%s = %v", key, value))
		}
	}
	return strings.Join(parts, ", ")
}

// String renders the whole function, one operation per line.
func (fn *Function) String() string {
	var sb strings.Builder
	args := xslices.Map(fn.Args, func(v *Value) string {
		return fmt.Sprintf("%s: %s", v.Name(), v.typ)
	})
	_, _ = fmt.Fprintf(&sb, "func @%s(%s) {\n", fn.Name, strings.Join(args, ", "))
	for _, op := range fn.Ops {
		sb.WriteString("  ")
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	sb.WriteString("}\n")
	return sb.String()
}
