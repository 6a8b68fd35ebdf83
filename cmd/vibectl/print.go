package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rhuss/vibe/pkg/api"
)

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) projects(projects []*api.Project) error {
	if p.json {
		if projects == nil {
			projects = []*api.Project{}
		}
		return p.encode(projects)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, pr := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", pr.ID, pr.Name, pr.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (p *printer) created(id string, runIDs []string) error {
	if p.json {
		return p.encode(map[string]any{"id": id, "run_ids": runIDs})
	}
	_, err := fmt.Fprintf(p.w, "%s\nruns: %s\n", id, strings.Join(runIDs, ", "))
	return err
}

func (p *printer) messages(msgs []*api.Message) error {
	if p.json {
		if msgs == nil {
			msgs = []*api.Message{}
		}
		return p.encode(msgs)
	}
	for _, m := range msgs {
		fmt.Fprintf(p.w, "[%s] %s\n", m.Role, m.Content)
		if f := m.Fragment; f != nil {
			fmt.Fprintf(p.w, "  %s  %s\n", f.Title, f.SandboxURL)
			paths := make([]string, 0, len(f.Files))
			for path := range f.Files {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(p.w, "    %s\n", path)
			}
		}
	}
	return nil
}

func (p *printer) run(r *api.Run) error {
	if p.json {
		return p.encode(r)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", r.ID)
	fmt.Fprintf(tw, "STATUS\t%s\n", r.Status)
	fmt.Fprintf(tw, "ATTEMPTS\t%d\n", r.Attempts)
	if r.Error != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", r.Error)
	}
	return tw.Flush()
}
