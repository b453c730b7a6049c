package main

import (
	"context"
	"io"

	"github.com/nvr-ai/edgerunner"
	"github.com/nvr-ai/edgerunner/config"
	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/qnntest"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// app holds the state shared by every command.
type app struct {
	out io.Writer

	configPath string
	delegate   string
	logLevel   string
	fake       bool

	cfg config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:           "edgerunner",
		Short:         "Load and run neural network models on CPU, GPU or NPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.delegate, "delegate", "", "Delegate to apply after loading (cpu, gpu, npu)")
	flags.StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	flags.BoolVar(&a.fake, "fake", false, "Serve model libraries from the in-process fake NPU runtime")

	rootCmd.AddCommand(newInspectCmd(a), newRunCmd(a), newClassifyCmd(a))
	return rootCmd
}

func (a *app) setup() error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(a.cfg.Log.Level, a.cfg.Log.Format)
	return nil
}

// openModel loads path and applies the requested delegate. The returned function closes
// the model and the runner.
func (a *app) openModel(path string) (model.Model, func(), error) {
	var opts []edgerunner.Option
	if a.fake {
		rt := qnntest.New()
		if edgerunner.Extension(path) == "so" {
			rt.AddModel(path, qnntest.MobileNet())
		}
		opts = append(opts, edgerunner.WithLoader(rt))
	}

	r, err := edgerunner.New(context.Background(), a.cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	m, err := r.NewModel(path)
	if err != nil {
		logger.Log.Errors("closing runner", r.Close())
		return nil, nil, err
	}
	release := func() {
		logger.Log.Errors("closing model", m.Close(), "model", m.Name())
		logger.Log.Errors("closing runner", r.Close())
	}

	if a.delegate != "" {
		d, err := model.ParseDelegate(a.delegate)
		if err != nil {
			release()
			return nil, nil, err
		}
		if m.ApplyDelegate(d) != model.Success {
			release()
			return nil, nil, errors.Errorf("model %q cannot run on %s", m.Name(), d)
		}
	}
	return m, release, nil
}
