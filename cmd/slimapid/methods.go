package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/cache"
	"github.com/guoyu07/SlimWebApi/config"
)

type MethodsCommand struct {
	JSON bool `help:"Print the listing as JSON."`
}

func (c *MethodsCommand) Run(cfg *config.Config, logger *zap.Logger) error {
	reg := api.NewRegistry(api.Options{Logger: logger})
	// The listing only needs cache settings, not a live backend.
	var provider cache.Provider
	if cfg.CacheBackend != config.CacheNone {
		provider = cache.NewMemory(1)
		reg.SetCacheBase(provider, cfg.CacheExpiration)
	}
	if err := registerDemo(reg, newDemoService(provider != nil)); err != nil {
		return err
	}
	reg.Seal()
	return printMethods(os.Stdout, reg.Describe(), c.JSON)
}

func printMethods(w io.Writer, methods []api.MethodInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(methods)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tSHAPE\tFORMATS\tPARAMS\tRESULT\tCACHE\tCOMPRESSION")
	for _, m := range methods {
		params := make([]string, len(m.Params))
		for i, p := range m.Params {
			params[i] = p.Name + " " + p.Type
		}
		cacheCol := "-"
		if m.AutoCache {
			cacheCol = "auto " + m.CacheExpiration
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.Shape, strings.Join(m.Formats, ","), strings.Join(params, ", "),
			orDash(m.Result), cacheCol, m.Compression)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
