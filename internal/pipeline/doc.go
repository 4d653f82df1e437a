// Package pipeline runs one detection end to end: load the image, prepare
// the model input, infer, decide and write the visualization artifacts.
//
// A Pipeline is built once from a config.Config and shared. Each Run is
// independent; the loaded model is the only state shared between calls.
//
//	p, err := pipeline.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	out, err := p.Run(ctx, pipeline.Request{Path: "scan.png", OutputDir: "out"})
//	if err != nil {
//	    // scanerr.Code(err) classifies the failure; out is nil.
//	}
//
// A failed run never yields an Output, so a decode or model failure can not
// be mistaken for a negative result.
package pipeline
