// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user files against embedded CUE schemas.
//
// The matrix workflow format and the configuration file share it:
//
//	//go:embed workflow_schema.cue
//	var workflowSchema string
//
//	var schema = cueutil.NewSchema(workflowSchema, "#Workflow")
//
//	var wf Workflow
//	if err := schema.Decode(data, "matrix.cue", &wf); err != nil {
//	    return nil, err // *ValidationError with the CUE path of the problem
//	}
package cueutil
