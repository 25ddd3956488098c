package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/e2llm/chartrepo/pkg/config"
	"github.com/e2llm/chartrepo/pkg/repo"
	"github.com/e2llm/chartrepo/pkg/scopes"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(&app{out: stdout, errOut: stderr, v: config.New(), regs: scopes.MustRegistries()})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

// app is the state shared by subcommands once flags and config are resolved.
type app struct {
	out    io.Writer
	errOut io.Writer

	v       *viper.Viper
	cfgFile string
	output  string

	regs *scopes.Registries
	cfg  *config.Config
	log  zerolog.Logger
	repo *repo.Repo
}

// offline marks commands that never touch storage.
const offline = "offline"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "chartrepo",
		Short:         "Manage a Helm chart registry on a filesystem or S3 bucket",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[offline] != "" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("backend", config.BackendFS, "backend to use (fs, s3)")
	flags.String("repo-root", "", "registry root path or s3:// URI")
	flags.String("s3-endpoint", "", "S3 endpoint URL for S3-compatible storage (e.g., MinIO)")
	flags.Int64("max-upload-size", 0, "largest accepted chart upload in bytes")
	flags.String("base-url", "", "URL prefix for tarball links written to the index")
	flags.Bool("replace-existing", false, "let publish overwrite an existing version")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&a.output, "output", "text", "output format for commands that support it (text, json)")

	root.AddCommand(
		newInitCmd(a),
		newIndexCmd(a),
		newVersionsCmd(a),
		newFetchCmd(a),
		newPublishCmd(a),
		newDeleteCmd(a),
		newCheckCmd(a),
		newScopesCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.Logger(zerolog.ConsoleWriter{Out: a.errOut})

	b, err := cfg.OpenBackend(cmd.Context())
	if err != nil {
		return err
	}
	a.repo = repo.New(b, a.regs, cfg.RepoOptions(a.log)...)
	return nil
}

// operator is the principal the CLI acts as.
func (a *app) operator() repo.Principal {
	return repo.Operator(a.regs)
}
