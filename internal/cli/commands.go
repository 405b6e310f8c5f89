package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/domain"
	"dubber/internal/infra/credentials"
	"dubber/internal/langtag"
	"dubber/internal/storage"
)

type commands struct {
	open Opener
}

// with opens the dependencies under the --timeout budget and runs fn.
func (c *commands) with(cmd *cobra.Command, fn func(ctx context.Context, deps *Deps) error) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	deps, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(ctx, deps)
}

func (c *commands) create() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <source-url>",
		Short: "Register a job for a short video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			description, _ := cmd.Flags().GetString("description")
			voice, _ := cmd.Flags().GetString("voice")
			lang, _ := cmd.Flags().GetString("lang")
			local, _ := cmd.Flags().GetBool("local")
			start, _ := cmd.Flags().GetBool("start")

			job := &domain.VideoJob{
				Title:        title,
				Description:  description,
				VoiceProfile: voice,
			}
			if lang != "" {
				job.TargetLanguage = langtag.Normalize(lang)
				if job.TargetLanguage == "" {
					return fmt.Errorf("unsupported language %q", lang)
				}
			}
			if local {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				job.SourcePath = abs
			} else {
				job.SourceURL = args[0]
			}

			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Jobs.Create(ctx, job); err != nil {
					return err
				}
				if start {
					if err := deps.Jobs.Start(ctx, job.ID); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), job.ID)
				return nil
			})
		},
	}
	cmd.Flags().String("title", "", "Original title")
	cmd.Flags().String("description", "", "Original description")
	cmd.Flags().String("voice", "", "Voice profile name")
	cmd.Flags().String("lang", "", "Target language (defaults to TARGET_LANGUAGE)")
	cmd.Flags().Bool("local", false, "Treat the argument as a local video file")
	cmd.Flags().Bool("start", false, "Queue the job immediately")
	return cmd
}

func (c *commands) start() *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-id>",
		Short: "Queue a job, resuming from its first failed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Jobs.Start(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *commands) retry() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id> <stage>",
		Short: "Rerun a stage and everything after it",
		Long:  "Stages: " + stageNames(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := domain.ParseStage(args[1])
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Jobs.RetryStage(ctx, args[0], stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s from %s\n", args[0], stage)
				return nil
			})
		},
	}
}

func (c *commands) reprocess() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <job-id>",
		Short: "Rerun the whole pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Jobs.Reprocess(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s from %s\n", args[0], domain.StageDownload)
				return nil
			})
		},
	}
}

func (c *commands) status() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job and its stage board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				job, stages, err := deps.Jobs.Status(ctx, args[0])
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), job, stages)
				return nil
			})
		},
	}
}

func printStatus(out io.Writer, job *domain.VideoJob, stages []domain.StageStatus) {
	fmt.Fprintf(out, "job:      %s\n", job.ID)
	fmt.Fprintf(out, "source:   %s\n", firstNonEmpty(job.SourceURL, job.SourcePath))
	fmt.Fprintf(out, "status:   %s\n", job.RunStatus)
	if job.LastError != "" {
		fmt.Fprintf(out, "error:    %s\n", job.LastError)
	}
	if job.Suggestion != "" {
		fmt.Fprintf(out, "hint:     %s\n", job.Suggestion)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATE\tFINISHED\tNOTE")
	for _, st := range stages {
		finished := "-"
		if st.CompletedAt != nil {
			finished = st.CompletedAt.Local().Format(time.DateTime)
		}
		note := firstNonEmpty(st.Error, st.Warning)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Stage, st.State, finished, note)
	}
	_ = tw.Flush()
}

func (c *commands) set() *cobra.Command {
	return &cobra.Command{
		Use:   "set <job-id> <field>=<value>...",
		Short: "Overwrite job fields without touching stage state",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Jobs.UpdateFields(ctx, args[0], fields); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d field(s) on %s\n", len(fields), args[0])
				return nil
			})
		},
	}
}

func parseAssignments(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		if key == "target_language" {
			tag := langtag.Normalize(value)
			if tag == "" {
				return nil, fmt.Errorf("unsupported language %q", value)
			}
			value = tag
		}
		fields[key] = value
	}
	return fields, nil
}

func (c *commands) uploadAudio() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-audio <job-id> <file.wav>",
		Short: "Replace the synthesized track and reset the stages after it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				rec, err := deps.Jobs.UploadAudio(ctx, args[0], data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %.2fs of audio for %s\n", rec.DurationSeconds, rec.JobID)
				return nil
			})
		},
	}
}

func (c *commands) setKey() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key <provider> [key]",
		Short: "Store a provider API key in the database",
		Long:  "Providers: " + strings.Join(credentials.Providers, ", ") + ". The key falls back to <PROVIDER>_API_KEY.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(strings.TrimSpace(args[0]))
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			if strings.TrimSpace(key) == "" {
				key = os.Getenv(strings.ToUpper(provider) + "_API_KEY")
			}
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("%s API key is required as an argument or via %s_API_KEY", provider, strings.ToUpper(provider))
			}
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Keys.SetToken(ctx, provider, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s api key stored\n", provider)
				return nil
			})
		},
	}
	return cmd
}

func (c *commands) unsetKey() *cobra.Command {
	return &cobra.Command{
		Use:   "unset-key <provider>",
		Short: "Remove a stored provider API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(strings.TrimSpace(args[0]))
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Keys.DeleteToken(ctx, provider); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s api key removed\n", provider)
				return nil
			})
		},
	}
}

func (c *commands) addVoice() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-voice <name>",
		Short: "Register or replace a voice profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, _ := cmd.Flags().GetString("sample")
			text, _ := cmd.Flags().GetString("text")
			providerVoice, _ := cmd.Flags().GetString("provider-voice")
			if sample == "" && providerVoice == "" {
				return errors.New("either --sample or --provider-voice is required")
			}
			profile := domain.VoiceProfile{
				Name:          strings.TrimSpace(args[0]),
				ReferenceText: text,
				ProviderVoice: providerVoice,
			}
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if sample != "" {
					key := string(storage.KindVoices) + "/" + profile.Name + strings.ToLower(filepath.Ext(sample))
					stored, err := deps.Files.Import(ctx, key, sample)
					if err != nil {
						return err
					}
					if profile.SamplePath, err = deps.Files.Path(stored); err != nil {
						return err
					}
				}
				if err := deps.Voices.SaveVoiceProfile(ctx, profile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "voice %s saved\n", profile.Name)
				return nil
			})
		},
	}
	cmd.Flags().String("sample", "", "Reference recording for voice cloning")
	cmd.Flags().String("text", "", "Transcript of the reference recording")
	cmd.Flags().String("provider-voice", "", "Built-in voice name of the speech provider")
	return cmd
}

func (c *commands) migrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, deps *Deps) error {
				if err := deps.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func stageNames() string {
	names := make([]string, len(domain.Stages))
	for i, s := range domain.Stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
