package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type component struct {
	Import string
	Usage  string
}

var defaultCatalog = map[string]component{
	"button": {
		Import: `import { Button } from "@/components/ui/button"`,
		Usage:  `<Button variant="outline" onClick={handleClick}>Save</Button>`,
	},
	"card": {
		Import: `import { Card, CardContent, CardHeader, CardTitle } from "@/components/ui/card"`,
		Usage:  "<Card>\n  <CardHeader><CardTitle>Title</CardTitle></CardHeader>\n  <CardContent>Body</CardContent>\n</Card>",
	},
	"input": {
		Import: `import { Input } from "@/components/ui/input"`,
		Usage:  `<Input placeholder="Email" value={value} onChange={(e) => setValue(e.target.value)} />`,
	},
	"dialog": {
		Import: `import { Dialog, DialogContent, DialogTrigger } from "@/components/ui/dialog"`,
		Usage:  "<Dialog>\n  <DialogTrigger asChild><Button>Open</Button></DialogTrigger>\n  <DialogContent>Content</DialogContent>\n</Dialog>",
	},
	"checkbox": {
		Import: `import { Checkbox } from "@/components/ui/checkbox"`,
		Usage:  `<Checkbox checked={done} onCheckedChange={setDone} />`,
	},
	"tabs": {
		Import: `import { Tabs, TabsContent, TabsList, TabsTrigger } from "@/components/ui/tabs"`,
		Usage:  "<Tabs defaultValue=\"a\">\n  <TabsList><TabsTrigger value=\"a\">A</TabsTrigger></TabsList>\n  <TabsContent value=\"a\">A</TabsContent>\n</Tabs>",
	},
}

type usageInput struct {
	Name string `json:"name" jsonschema:"component name as returned by list_components"`
}

func newServer(catalog map[string]component) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "vibe-component-catalog", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_components",
		Description: "Lists the UI components available in the sandbox",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		names := make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
		sort.Strings(names)
		return textResult(strings.Join(names, "\n"), false), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "component_usage",
		Description: "Returns the import statement and a usage example for a UI component",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in usageInput) (*mcp.CallToolResult, any, error) {
		c, ok := catalog[strings.ToLower(strings.TrimSpace(in.Name))]
		if !ok {
			return textResult(fmt.Sprintf("unknown component %q", in.Name), true), nil, nil
		}
		return textResult(c.Import+"\n\n"+c.Usage, false), nil, nil
	})

	return server
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
