// ABOUTME: Graph generation for the offline queue
// ABOUTME: Renders collections, pending items, and dead letters with go-graphviz
package viz

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/harperreed/agencysync/models"
)

// Formats accepted by Render.
var Formats = map[string]graphviz.Format{
	"dot": graphviz.XDOT,
	"svg": graphviz.SVG,
	"png": graphviz.PNG,
	"jpg": graphviz.JPG,
}

// ParseFormat maps a format name to a graphviz format.
func ParseFormat(name string) (graphviz.Format, error) {
	if name == "" {
		return graphviz.XDOT, nil
	}
	f, ok := Formats[name]
	if !ok {
		return "", fmt.Errorf("unknown format %q (valid: dot, svg, png, jpg)", name)
	}
	return f, nil
}

// GraphGenerator draws the queue as collection clusters of pending and dead items.
type GraphGenerator struct {
	pending []models.PendingItem
	dead    []models.DeadLetter
}

func NewGraphGenerator(pending []models.PendingItem, dead []models.DeadLetter) *GraphGenerator {
	return &GraphGenerator{pending: pending, dead: dead}
}

// GenerateQueueGraph returns the graph as DOT source.
func (g *GraphGenerator) GenerateQueueGraph() (string, error) {
	out, err := g.Render(context.Background(), graphviz.XDOT)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Render lays out the queue graph in the given format.
func (g *GraphGenerator) Render(ctx context.Context, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create graphviz: %w", err)
	}
	defer func() { _ = gv.Close() }()

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to create graph: %w", err)
	}
	defer func() { _ = graph.Close() }()

	graph.SetLabel(fmt.Sprintf("Offline queue: %d pending, %d dead", len(g.pending), len(g.dead)))
	graph.SetRankDir(cgraph.LRRank)

	collections := make(map[string]*cgraph.Node)
	collectionNode := func(name string) (*cgraph.Node, error) {
		if node, ok := collections[name]; ok {
			return node, nil
		}
		node, err := graph.CreateNodeByName("collection_" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to create collection node: %w", err)
		}
		node.SetLabel(name)
		node.SetShape("box")
		node.SetStyle("filled")
		node.SetFillColor("lightgrey")
		collections[name] = node
		return node, nil
	}

	// Stable node creation order keeps DOT output diffable.
	for _, name := range g.collectionNames() {
		if _, err := collectionNode(name); err != nil {
			return nil, err
		}
	}

	for _, item := range g.pending {
		parent, err := collectionNode(item.Collection)
		if err != nil {
			return nil, err
		}
		node, err := graph.CreateNodeByName("pending_" + item.Key())
		if err != nil {
			return nil, fmt.Errorf("failed to create item node: %w", err)
		}
		label := fmt.Sprintf("%s\n%s", item.ID, item.Operation)
		if item.Retries > 0 {
			label += fmt.Sprintf("\nretries: %d", item.Retries)
			node.SetColor("orange")
			node.SetPenWidth(2)
		}
		node.SetLabel(label)
		node.SetShape("ellipse")
		node.SetStyle("filled")
		node.SetFillColor(operationColor(item.Operation))

		if _, err := graph.CreateEdgeByName("", parent, node); err != nil {
			return nil, fmt.Errorf("failed to create edge: %w", err)
		}
	}

	for _, dl := range g.dead {
		parent, err := collectionNode(dl.Collection)
		if err != nil {
			return nil, err
		}
		node, err := graph.CreateNodeByName("dead_" + dl.Key())
		if err != nil {
			return nil, fmt.Errorf("failed to create dead letter node: %w", err)
		}
		node.SetLabel(fmt.Sprintf("%s\n%s\n%s", dl.ID, dl.Operation, dl.LastError))
		node.SetShape("octagon")
		node.SetStyle("filled")
		node.SetFillColor("tomato")

		edge, err := graph.CreateEdgeByName("", parent, node)
		if err != nil {
			return nil, fmt.Errorf("failed to create edge: %w", err)
		}
		edge.SetStyle("dashed")
		edge.SetLabel("dead")
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("failed to render graph: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *GraphGenerator) collectionNames() []string {
	seen := make(map[string]bool)
	for _, item := range g.pending {
		seen[item.Collection] = true
	}
	for _, dl := range g.dead {
		seen[dl.Collection] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func operationColor(op models.Operation) string {
	switch op {
	case models.OperationCreate:
		return "lightgreen"
	case models.OperationDelete:
		return "lightpink"
	default:
		return "lightblue"
	}
}
