// Package capture orchestrates real-time frame capture.
//
// A Session pulls frames from a Source and hands them to a Router, which fans
// each frame out to sinks running on their own goroutines:
//
//	Source → Session → Router → Sinks (still, video, stream, depth, metadata)
//	                                     ↓
//	                               Pipeline (optional annotation)
//	                                     ↓
//	                                  Notifier → Observers
//
// Every outward event, whatever goroutine produced it, goes through a single
// Notifier that delivers events one at a time in sequence order.
//
// Basic usage:
//
//	src := capture.NewMockSource()
//	sess := capture.NewSession(src, capture.WithModel(model))
//	defer sess.Close()
//
//	sess.Subscribe(capture.ObserverFuncs{
//		AnnotatedFrame: func(seq uint64, f *capture.Frame, preds []capture.Prediction, err error) {
//			fmt.Println(seq, preds)
//		},
//	})
//
//	if err := sess.Configure(camera.DefaultConfig()); err != nil {
//		return err
//	}
//	if err := sess.Start(ctx); err != nil {
//		return err
//	}
//	sess.CaptureStill()
//
// Hardware access, inference and video encoding live behind the Source,
// Model and Recorder interfaces; see pkg/source, pkg/detection and
// pkg/recorder for adapters.
package capture
