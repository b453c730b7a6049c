package main

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"time"

	"github.com/nvr-ai/edgerunner/classifier"
	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/profiler"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/nvr-ai/edgerunner/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Print the tensors of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, release, err := a.openModel(args[0])
			if err != nil {
				return err
			}
			defer release()

			fmt.Fprintf(a.out, "model:     %s\n", m.Name())
			fmt.Fprintf(a.out, "delegate:  %s\n", m.Delegate())
			fmt.Fprintf(a.out, "precision: %s\n", m.Precision())
			for i := 0; i < m.NumInputs(); i++ {
				printTensor(a, "input", i, m.Input(i))
			}
			for i := 0; i < m.NumOutputs(); i++ {
				printTensor(a, "output", i, m.Output(i))
			}
			return nil
		},
	}
}

func printTensor(a *app, kind string, i int, t tensor.Tensor) {
	fmt.Fprintf(a.out, "%s %d:   %s (%d bytes)\n", kind, i, tensor.Describe(t), len(t.Bytes()))
}

func newRunCmd(a *app) *cobra.Command {
	var (
		iterations int
		report     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Execute a model repeatedly and report latency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if iterations < 1 {
				return errors.Errorf("--iterations must be at least 1, got %d", iterations)
			}
			stop := a.serveMetrics()
			defer stop()

			m, release, err := a.openModel(args[0])
			if err != nil {
				return err
			}
			defer release()

			prof := profiler.New(iterations)
			if report > 0 {
				prof.Start(report)
				defer prof.Stop()
			}

			for i := 0; i < iterations; i++ {
				done := prof.StartOperation("execute")
				status := m.Execute()
				done()
				if status != model.Success {
					return errors.Errorf("execution %d of %q failed", i+1, m.Name())
				}
			}

			s, _ := prof.Stats("execute")
			fmt.Fprintf(a.out, "%s on %s: %d runs, min %s, mean %s, p90 %s, max %s\n",
				m.Name(), m.Delegate(), s.Count, s.Min, s.Mean, s.P90, s.Max)
			return nil
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 10, "Number of executions")
	cmd.Flags().DurationVar(&report, "report", 0, "Log runtime statistics at this interval while running")
	return cmd
}

// serveMetrics exposes the Prometheus registry while a command runs when the configuration
// names a listen address.
func (a *app) serveMetrics() func() {
	if a.cfg.Metrics.Listen == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("metrics endpoint failed", "listen", a.cfg.Metrics.Listen, "error", err)
		}
	}()
	logger.Log.Info("serving metrics", "listen", a.cfg.Metrics.Listen)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		logger.Log.Errors("stopping metrics endpoint", srv.Shutdown(ctx))
	}
}

func newClassifyCmd(a *app) *cobra.Command {
	var (
		labelsPath string
		top        int
		camera     int
		frames     int
	)

	cmd := &cobra.Command{
		Use:   "classify MODEL [IMAGE|DIR]",
		Short: "Classify image files or camera frames",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && camera < 0 {
				return errors.New("an image path or --camera is required")
			}

			var labels []string
			if labelsPath != "" {
				var err error
				if labels, err = classifier.LoadLabels(labelsPath); err != nil {
					return err
				}
			}

			m, release, err := a.openModel(args[0])
			if err != nil {
				return err
			}
			defer release()

			c, err := classifier.New(m, labels)
			if err != nil {
				return err
			}

			if len(args) == 2 {
				return a.classifyPath(c, args[1], top)
			}

			cam, err := classifier.OpenCamera(camera)
			if err != nil {
				return err
			}
			defer func() { logger.Log.Errors("closing camera", cam.Close()) }()

			for i := 0; i < frames; i++ {
				img, err := cam.Read()
				if err != nil {
					return err
				}
				if err := a.classify(c, img, top); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&labelsPath, "labels", "", "Label list, one label per line, background first")
	cmd.Flags().IntVarP(&top, "top", "k", 3, "Number of predictions to print")
	cmd.Flags().IntVar(&camera, "camera", -1, "Capture device to classify frames from")
	cmd.Flags().IntVar(&frames, "frames", 1, "Number of camera frames to classify")
	return cmd
}

// classifyPath classifies one image file or every image in a directory.
func (a *app) classifyPath(c *classifier.Classifier, path string, top int) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if !info.IsDir() {
		img, err := classifier.LoadImage(path)
		if err != nil {
			return err
		}
		return a.classify(c, img, top)
	}

	files, err := util.LoadDirectoryImageFiles(path)
	if err != nil {
		return err
	}
	for _, f := range files {
		img, err := classifier.DecodeImage(f.Data)
		if err != nil {
			return errors.Wrapf(err, "decoding %s", f.Path)
		}
		fmt.Fprintf(a.out, "%s\n", f.Path)
		if err := a.classify(c, img, top); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) classify(c *classifier.Classifier, img image.Image, top int) error {
	preds, elapsed, err := c.Predict(img, top)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "inference: %s\n", elapsed)
	for i, p := range preds {
		fmt.Fprintf(a.out, "%d. %s\n", i+1, p)
	}
	return nil
}
