package resource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
)

const (
	mimeJSON          = "application/json"
	fileContentPrefix = "file://content/"
)

// Builtins returns the resources every server exposes.
func Builtins() []Resource {
	return []Resource{
		{
			Definition: mcp.ResourceDefinition{
				URI:         "index://status",
				Name:        "Index status",
				Description: "Readiness of the project index, file count and symbol kinds",
				MimeType:    mimeJSON,
			},
			Read: readIndexStatus,
		},
		{
			Definition: mcp.ResourceDefinition{
				URI:         "project://structure",
				Name:        "Project structure",
				Description: "Directory tree of indexed project files",
				MimeType:    mimeJSON,
			},
			Read: readProjectStructure,
		},
		{
			Definition: mcp.ResourceDefinition{
				URI:         fileContentPrefix + "{path}",
				Name:        "File content",
				Description: "Content of a project file; path is project-relative and may be URL-escaped",
				MimeType:    "text/plain",
			},
			Read: readFileContent,
		},
		{
			Definition: mcp.ResourceDefinition{
				URI:         "symbol://kinds",
				Name:        "Symbol kinds",
				Description: "The symbol kinds tools report",
				MimeType:    mimeJSON,
			},
			Read: readSymbolKinds,
		},
	}
}

// RegisterBuiltins registers every built-in resource with r.
func RegisterBuiltins(r *Registry) {
	for _, res := range Builtins() {
		r.Register(res)
	}
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", uri, err)
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeJSON, Text: string(data)}}, nil
}

func readIndexStatus(ctx context.Context, project host.Project, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
	return jsonContents(uri, host.Status(project))
}

func readSymbolKinds(ctx context.Context, project host.Project, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
	return jsonContents(uri, map[string]any{"kinds": host.SymbolKinds()})
}

type treeNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []*treeNode `json:"children,omitempty"`

	dirs map[string]*treeNode
}

func (n *treeNode) dir(name string) *treeNode {
	if n.dirs == nil {
		n.dirs = make(map[string]*treeNode)
	}
	if d, ok := n.dirs[name]; ok {
		return d
	}
	d := &treeNode{Name: name, Type: "directory"}
	n.dirs[name] = d
	n.Children = append(n.Children, d)
	return d
}

func (n *treeNode) sort() {
	sort.Slice(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == "directory"
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		c.sort()
	}
}

func readProjectStructure(ctx context.Context, project host.Project, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
	if !project.Ready() {
		return nil, host.ErrIndexNotReady
	}
	files, err := project.ListFiles("")
	if err != nil {
		return nil, err
	}

	root := &treeNode{Name: project.Name(), Type: "directory"}
	for _, f := range files {
		parts := strings.Split(f, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			node = node.dir(dir)
		}
		node.Children = append(node.Children, &treeNode{Name: parts[len(parts)-1], Type: "file"})
	}
	root.sort()
	return jsonContents(uri, root)
}

func readFileContent(ctx context.Context, project host.Project, uri string, params map[string]string) ([]mcp.ResourceContents, error) {
	// The template captures one segment; an unescaped nested path spills
	// into the segments after it, so read everything past the prefix.
	raw := params["path"]
	if rest, ok := strings.CutPrefix(uri, fileContentPrefix); ok {
		raw = rest
	}
	rel, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed path %q", host.ErrFileNotFound, raw)
	}

	var data []byte
	err = project.ReadAction(ctx, func() error {
		var err error
		data, err = project.ReadFile(rel)
		return err
	})
	if err != nil {
		return nil, err
	}

	mimeType := mime.TypeByExtension(path.Ext(rel))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if utf8.Valid(data) {
		if mimeType == "" {
			mimeType = "text/plain"
		}
		return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: string(data)}}, nil
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}}, nil
}
