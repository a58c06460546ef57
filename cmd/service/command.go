package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/deckforge/deckforge/app/core"
	v1 "github.com/deckforge/deckforge/app/logic/v1"
	"github.com/deckforge/deckforge/app/logic/v1/process"
	"github.com/deckforge/deckforge/cmd/service/handler"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/types"
	"github.com/deckforge/deckforge/pkg/utils"
)

type Options struct {
	ConfigPath string
	EnvFile    string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "load settings from the given toml file, environment variables otherwise")
	flagSet.StringVar(&o.EnvFile, "env-file", ".env", "dotenv file read before environment variables when no config file is given")
}

func (o *Options) loadConfig() core.CoreConfig {
	if o.ConfigPath == "" && o.EnvFile != "" {
		if _, err := os.Stat(o.EnvFile); err == nil {
			if err = godotenv.Load(o.EnvFile); err != nil {
				fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", o.EnvFile, err)
			}
		}
	}
	return core.MustLoadBaseConfig(o.ConfigPath)
}

// run sets up a core for one command and localizes whatever error fn returns.
func (o *Options) run(fn func(ctx context.Context, app *core.Core) error, coreOpts ...core.Option) error {
	app := core.MustSetupCore(o.loadConfig(), coreOpts...)
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, app); err != nil {
		return fmt.Errorf("%s", errors.Describe(app.I18n(), app.Lang(), err))
	}
	return nil
}

// NewCommands returns every deckforge subcommand.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		NewSubmitCommand(),
		NewWatchCommand(),
		NewDownloadCommand(),
		NewFeedbackCommand(),
		NewHealthCommand(),
		NewLogsCommand(),
		NewServeCommand(),
	}
}

type submitOptions struct {
	Options
	PDF            string
	TextFile       string
	Input          string
	Pages          int
	Topic          string
	Audience       string
	Style          string
	Context        string
	Template       string
	NoTopicContent bool
}

func NewSubmitCommand() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "upload a document or text, follow the generation and save the presentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				req, err := opts.request()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				out, err := v1.NewGenerationLogic(ctx, app).Start(req, uploadPrinter(w), eventPrinter(w))
				printOutcome(w, out)
				return err
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.PDF, "pdf", "", "pdf document to build the presentation from")
	cmd.Flags().StringVar(&opts.TextFile, "text", "", "text or markdown file to build the presentation from")
	cmd.Flags().StringVar(&opts.Input, "input", "", "inline text to build the presentation from")
	cmd.Flags().IntVarP(&opts.Pages, "pages", "p", 10, "number of slides")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "presentation topic, derived from the content when empty")
	cmd.Flags().StringVar(&opts.Audience, "audience", "", "target audience")
	cmd.Flags().StringVar(&opts.Style, "style", "", "presentation style")
	cmd.Flags().StringVar(&opts.Context, "context", "", "additional instructions for the generator")
	cmd.Flags().StringVar(&opts.Template, "template", "", "pptx template to style the slides with")
	cmd.Flags().BoolVar(&opts.NoTopicContent, "no-topic-content", false, "do not let the generator add content beyond the source")
	return cmd
}

func (o *submitOptions) request() (v1.SubmitRequest, error) {
	req := v1.SubmitRequest{
		PageCount:    o.Pages,
		Topic:        o.Topic,
		Audience:     o.Audience,
		Style:        o.Style,
		UserContext:  o.Context,
		TemplatePath: o.Template,
	}
	if o.NoTopicContent {
		generate := false
		req.GenerateTopicContent = &generate
	}

	sources := 0
	for _, s := range []string{o.PDF, o.TextFile, o.Input} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return req, errors.New("submit.request", i18n.ERROR_NO_CONTENT_SOURCE, types.ErrMultipleContentSource).Kind(errors.KindInvalidArgument)
	}

	switch {
	case o.PDF != "":
		doc, err := documentRef(o.PDF)
		if err != nil {
			return req, err
		}
		req.Input = types.BinaryDocumentInput(doc)
	case o.TextFile != "":
		doc, err := documentRef(o.TextFile)
		if err != nil {
			return req, err
		}
		req.Input = types.TextDocumentInput(doc)
	default:
		req.Input = types.InlineTextInput(o.Input)
	}
	return req, nil
}

func documentRef(path string) (types.DocumentRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.DocumentRef{}, errors.New("submit.documentRef", i18n.ERROR_INVALIDARGUMENT, err).Kind(errors.KindInvalidArgument)
	}
	return types.DocumentRef{
		Name: filepath.Base(path),
		Path: path,
		Size: info.Size(),
	}, nil
}

func NewWatchCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "resume the persisted task and follow it to the end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				w := cmd.OutOrStdout()
				out, err := v1.NewGenerationLogic(ctx, app).Resume(eventPrinter(w))
				printOutcome(w, out)
				return err
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func NewDownloadCommand() *cobra.Command {
	opts := &Options{}
	var taskID string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "save the presentation of a finished task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				location, err := v1.NewGenerationLogic(ctx, app).Download(taskID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), location)
				return nil
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "task id")
	cmd.MarkFlagRequired("task")
	return cmd
}

func NewFeedbackCommand() *cobra.Command {
	opts := &Options{}
	var taskID, message string
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "send feedback about a generated presentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				res, err := v1.NewFeedbackLogic(ctx, app).Submit(taskID, message)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", res.Message, res.Filename)
				return nil
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "task id, the current task when empty")
	cmd.Flags().StringVarP(&message, "message", "m", "", "feedback text")
	return cmd
}

func NewHealthCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "check that the generation service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				if err := app.Backend().Health(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", app.Backend().Origin())
				return nil
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func NewLogsCommand() *cobra.Command {
	opts := &Options{}
	var (
		taskID  string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "print the LLM request logs of a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				logic := v1.NewFeedbackLogic(ctx, app)
				var (
					res any
					err error
				)
				if summary {
					res, err = logic.Summary(taskID)
				} else {
					res, err = logic.Logs(taskID)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
	opts.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "task id, the current task when empty")
	cmd.Flags().BoolVar(&summary, "summary", false, "print request totals only")
	return cmd
}

func NewServeCommand() *cobra.Command {
	opts := &Options{}
	var resume bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the monitor: state, notifications, metrics and the websocket relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, app *core.Core) error {
				unwatch := v1.NewRelayLogic(ctx, app).WatchState()
				defer unwatch()

				p := process.NewProcess(app)
				p.Start()
				defer p.Stop()

				if resume {
					handler.FollowInBackground(app, func(l *v1.GenerationLogic) (*v1.Outcome, error) {
						return l.Resume(nil)
					})
				}
				return serve(ctx, app)
			}, core.WithTower())
		},
	}
	opts.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&resume, "resume", false, "follow the persisted task in the background")
	return cmd
}

// uploadPrinter prints upload progress in steps of ten percent.
func uploadPrinter(w io.Writer) func(int) {
	last := -1
	return func(percent int) {
		step := percent / 10
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(w, "upload     %3d%%\n", percent)
	}
}

func eventPrinter(w io.Writer) func(progress.Event) {
	return func(ev progress.Event) {
		switch ev.Kind {
		case progress.EVENT_PROGRESS:
			fmt.Fprintf(w, "generation %3d%% %s\n", ev.Progress.Progress, ev.Progress.Status)
		case progress.EVENT_RECONNECTING:
			fmt.Fprintf(w, "reconnecting (attempt %d) in %s\n", ev.Attempt, ev.Delay)
		case progress.EVENT_EXHAUSTED, progress.EVENT_CLOSED:
			if ev.Message != "" {
				fmt.Fprintln(w, ev.Message)
			}
		}
	}
}

func printOutcome(w io.Writer, out *v1.Outcome) {
	if out == nil {
		return
	}
	fmt.Fprintf(w, "task %s %s\n", out.TaskID, out.Status)
	if out.Location == "" {
		return
	}
	if info, err := os.Stat(out.Location); err == nil {
		fmt.Fprintf(w, "saved %s (%s)\n", out.Location, utils.HumanBytes(info.Size()))
		return
	}
	fmt.Fprintf(w, "saved %s\n", out.Location)
}
