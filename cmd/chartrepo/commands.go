package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e2llm/chartrepo/pkg/metadata"
	"github.com/e2llm/chartrepo/pkg/repo"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the registry layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.repo.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "initialized registry at %s\n", a.cfg.Root)
			return nil
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage per-owner chart indexes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <owner>",
			Short: "Write an empty index for owner",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := a.repo.CreateIndex(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "created index for %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <owner>",
			Short: "Print owner's index.yaml",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				idx, err := a.repo.Index(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.output == "json" {
					return encodeJSON(a, idx)
				}
				data, err := metadata.MarshalChartIndex(idx)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "delete <owner>",
			Short: "Remove owner's index",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.repo.DeleteIndex(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted index for %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newVersionsCmd(a *app) *cobra.Command {
	var prereleases bool
	cmd := &cobra.Command{
		Use:   "versions <owner> <repo>",
		Short: "List stored versions, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := a.repo.Versions(cmd.Context(), a.operator(), target(args), prereleases)
			if err != nil {
				return err
			}
			out := make([]string, 0, len(vs))
			for _, v := range vs {
				out = append(out, v.String())
			}
			if a.output == "json" {
				return encodeJSON(a, out)
			}
			for _, v := range out {
				fmt.Fprintln(a.out, v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prereleases, "prereleases", false, "include prerelease versions")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		dest        string
		provenance  bool
		prereleases bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <owner> <repo> <version|latest|current>",
		Short: "Download a chart tarball or its provenance file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetch := a.repo.Fetch
			if provenance {
				fetch = a.repo.FetchProvenance
			}
			c, err := fetch(cmd.Context(), a.operator(), target(args), args[2], prereleases)
			if err != nil {
				return err
			}
			if dest == "" {
				dest = filepath.Base(c.Path)
			}
			if dest == "-" {
				_, err = a.out.Write(c.Data)
				return err
			}
			if err := os.WriteFile(dest, c.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}
			fmt.Fprintf(a.errOut, "fetched %s %s to %s\n", target(args), c.Version, dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "out", "o", "", "destination file, - for stdout (default: tarball name)")
	cmd.Flags().BoolVar(&provenance, "provenance", false, "fetch the provenance file instead of the tarball")
	cmd.Flags().BoolVar(&prereleases, "prereleases", false, "let latest pick prerelease versions")
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	var provenance bool
	cmd := &cobra.Command{
		Use:   "publish <owner> <repo> <version> <file>",
		Short: "Validate and store a packaged chart",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			mr, err := uploadBody(args[3])
			if err != nil {
				return err
			}
			t := target(args)
			if provenance {
				if err := a.repo.PublishProvenance(cmd.Context(), a.operator(), t, args[2], mr); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "published provenance for %s %s\n", t, args[2])
				return nil
			}
			cv, err := a.repo.Publish(cmd.Context(), a.operator(), t, args[2], mr)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "published %s %s (sha256:%s)\n", t, cv.Version, cv.Digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&provenance, "provenance", false, "file is a provenance file for an already published version")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <owner> <repo> <version>",
		Short: "Remove a version, its provenance file and its index entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := target(args)
			if err := a.repo.Delete(cmd.Context(), a.operator(), t, args[2]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s %s\n", t, args[2])
			return nil
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <owner> <repo>...",
		Short: "Report drift between an owner's index and stored tarballs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := args[0]
			results := make(map[string]repo.CheckResult, len(args)-1)
			var failed []string
			for _, name := range args[1:] {
				t := repo.Repository{Owner: owner, Name: name}
				res := a.repo.CheckDetailed(cmd.Context(), t)
				results[t.String()] = res
				if res.Err != nil {
					failed = append(failed, t.String())
				}
			}
			if a.output == "json" {
				if err := encodeJSON(a, results); err != nil {
					return err
				}
			} else {
				for _, name := range args[1:] {
					t := repo.Repository{Owner: owner, Name: name}
					res := results[t.String()]
					for _, w := range res.Warnings {
						fmt.Fprintf(a.out, "warn: %s: %s\n", t, w)
					}
					if res.Err != nil {
						fmt.Fprintf(a.out, "error: %s: %v\n", t, res.Err)
						continue
					}
					fmt.Fprintf(a.out, "%s ok\n", t)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("check failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func newScopesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "scopes [apikey|member] [value]",
		Short:       "List scope positions or decode a stored bitfield",
		Args:        cobra.RangeArgs(0, 2),
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.regs.APIKeys
			if len(args) > 0 {
				switch args[0] {
				case "apikey":
				case "member":
					reg = a.regs.Members
				default:
					return fmt.Errorf("unknown registry %q", args[0])
				}
			}
			if len(args) < 2 {
				for _, f := range reg.Flags() {
					fmt.Fprintf(a.out, "%2d %s\n", f.Position, f.Name)
				}
				return nil
			}
			value, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse value %q: %w", args[1], err)
			}
			b := reg.Init(value)
			if a.output == "json" {
				return encodeJSON(a, b.Names())
			}
			fmt.Fprintln(a.out, b.String())
			if extra := value &^ reg.Max(); extra != 0 {
				fmt.Fprintf(a.out, "warn: bits %#x are not defined in the %s registry\n", extra, reg.Name())
			}
			return nil
		},
	}
}

func target(args []string) repo.Repository {
	return repo.Repository{Owner: args[0], Name: args[1]}
}

// uploadBody wraps a local file in the single-field multipart body the
// registry accepts over HTTP.
func uploadBody(path string) (*multipart.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="chart"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", "application/gzip")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return multipart.NewReader(&buf, w.Boundary()), nil
}

func encodeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
