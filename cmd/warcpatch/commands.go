package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/USC-NSL/IMC-25-Artifact/ledger"
	"github.com/USC-NSL/IMC-25-Artifact/patcher"
	"github.com/USC-NSL/IMC-25-Artifact/warcpatch"
)

func newPatchCmd(g *globals) *cobra.Command {
	var (
		dynPrefix, dynWARC       string
		staticPrefix, staticWARC string
		selective, pinTS         bool
	)
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Patch one static capture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if selective {
				g.cfg.Policy = string(patcher.PolicySelective)
			}
			if pinTS {
				g.cfg.PinTimestamp = true
			}
			opts, err := g.cfg.PatcherOptions(dynPrefix, dynWARC, staticPrefix, staticWARC)
			if err != nil {
				return err
			}
			opts.Logger = g.logger
			p, err := patcher.New(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res, err := p.Patch(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dynPrefix, "dynamic-prefix", "", "capture prefix of the dynamic capture, e.g. writes/col/x/record-js-0")
	f.StringVar(&dynWARC, "dynamic-warc", "", "dynamic WARC file")
	f.StringVar(&staticPrefix, "static-prefix", "", "capture prefix of the static capture")
	f.StringVar(&staticWARC, "static-warc", "", "static WARC file")
	f.BoolVar(&selective, "selective", false, "only transplant tags that initiated a resource")
	f.BoolVar(&pinTS, "pin-ts", false, "pin absolute script URLs to the dynamic capture timestamp")
	for _, name := range []string{"dynamic-prefix", "dynamic-warc", "static-prefix", "static-warc"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newBatchCmd(g *globals) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Patch every archive of a collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := g.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			sum, err := svc.PatchCollection(cmd.Context(), collection)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (default: config collection)")
	return cmd
}

func newInitiatorsCmd(g *globals) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "initiators",
		Short: "Report the root tags that initiated each resource of a capture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			abs, err := filepath.Abs(prefix)
			if err != nil {
				return err
			}
			rep, err := warcpatch.TraceInitiators(abs, g.cfg.ContentTypes)
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "capture prefix, e.g. writes/col/x/record-js-0")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func newResourcesCmd(g *globals) *cobra.Command {
	var collection, archive string
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List resources missing from or updated in the static capture of an archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := g.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			d, err := svc.Resources(cmd.Context(), collection, archive)
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (default: config collection)")
	cmd.Flags().StringVar(&archive, "archive", "", "archive name")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

func newJobsCmd(g *globals) *cobra.Command {
	var (
		status, collection string
		limit              int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded patch jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := ledger.Filter{Collection: collection, Limit: limit}
			if status != "" {
				st, err := ledger.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			svc, err := g.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			jobs, err := svc.Jobs(cmd.Context(), f)
			if err != nil {
				return err
			}
			if jobs == nil {
				jobs = []ledger.Entry{}
			}
			return printJSON(jobs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: patched, skipped, failed")
	cmd.Flags().StringVar(&collection, "collection", "", "filter by collection")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (default 100)")
	return cmd
}
