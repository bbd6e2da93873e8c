package dbl

import (
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/pkg/errors"
)

//GraphDescription returns the description of a node for tree rendering as a graph.
func (node ModelNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("#", node.NumberOfObjects))
	sb.WriteString(fmt.Sprintln("id: ", node.ID))
	if node.IsLeaf() {
		sb.WriteString(fmt.Sprintf("%6.5f", node.LeafValue))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintln("gain: ", node.Gain))
	sb.WriteString(fmt.Sprintf("f_%d <= %6.5f (bin %d)", node.FeatureIndex, node.Threshold, node.BinThreshold))
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, tree ModelTree, nodeNumber int, parentNode *cgraph.Node) error {
	if nodeNumber < 0 || nodeNumber >= len(tree.Nodes) {
		return errors.Wrapf(ErrInconsistentTree, "node %d of %d", nodeNumber, len(tree.Nodes))
	}
	currentNode, err := g.CreateNode(fmt.Sprint(tree.Nodes[nodeNumber].ID))
	if err != nil {
		return err
	}

	if parentNode != nil {
		if _, err := g.CreateEdge("", parentNode, currentNode); err != nil {
			return err
		}
	}

	currentNode.Set("label", tree.Nodes[nodeNumber].GraphDescription())
	if tree.Nodes[nodeNumber].IsLeaf() {
		currentNode.Set("shape", "box")
		return nil
	}
	if err := recurrentDraw(g, tree, tree.Nodes[nodeNumber].Left, currentNode); err != nil {
		return err
	}
	return recurrentDraw(g, tree, tree.Nodes[nodeNumber].Right, currentNode)
}

//DrawGraph builds the graphviz graph of a tree. The caller closes both values.
func (tree ModelTree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		_ = graphViz.Close()
		return nil, nil, err
	}
	if err := recurrentDraw(graph, tree, 0, nil); err != nil {
		_ = graph.Close()
		_ = graphViz.Close()
		return nil, nil, err
	}
	return graphViz, graph, nil
}

var graphvizFormats = map[string]graphviz.Format{
	"png": graphviz.PNG,
	"svg": graphviz.SVG,
	"jpg": graphviz.JPG,
	"dot": graphviz.XDOT,
}

//RenderTrees writes one picture per tree named <prefix>_<index>.<figureType> into picturesDirectory.
func (model *Model) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := graphvizFormats[figureType]
	if !ok {
		return errors.Wrapf(ErrIncorrectParameter, "figure type %q", figureType)
	}

	for graphInd, currentTree := range model.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph, err := currentTree.DrawGraph()
		if err != nil {
			return errors.Wrapf(err, "tree %d", graphInd)
		}
		err = graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename))
		_ = graph.Close()
		_ = graphViz.Close()
		if err != nil {
			return errors.Wrapf(err, "render tree %d", graphInd)
		}
	}
	return nil
}
