package provider

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// toOutputs widens policy ID outputs so they can join other dependency
// outputs in a single pulumi.All.
func toOutputs(ins []pulumi.StringOutput) []pulumi.Output {
	outs := make([]pulumi.Output, 0, len(ins))
	for _, in := range ins {
		outs = append(outs, in)
	}
	return outs
}

func outputsToInterfaces(ins []pulumi.Output) []interface{} {
	out := make([]interface{}, len(ins))
	for i, v := range ins {
		out[i] = v
	}
	return out
}

// valueOrDefault resolves an optional input field to its configured value or
// the component default.
func valueOrDefault[T ~string](ptr *T, def T) string {
	if ptr == nil {
		return string(def)
	}
	return string(*ptr)
}
