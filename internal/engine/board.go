package engine

import (
	"slices"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
)

// Hex is a producing tile. Desert tiles have an empty Resource and Number 0.
type Hex struct {
	ID       int           `json:"id"`
	Resource resource.Kind `json:"resource,omitempty"`
	Number   int           `json:"number,omitempty"`
}

type Vertex struct {
	ID        int   `json:"id"`
	Hexes     []int `json:"hexes"`
	Neighbors []int `json:"neighbors"`
}

type Edge struct {
	ID int `json:"id"`
	A  int `json:"a"`
	B  int `json:"b"`
}

// Port lowers the bank rate for players with a building on one of its vertices. An empty
// Resource makes it a generic port.
type Port struct {
	Vertices []int         `json:"vertices"`
	Resource resource.Kind `json:"resource,omitempty"`
	Ratio    int           `json:"ratio"`
}

// Board is the static map. Geometry is plain data so the engine never does coordinate math.
type Board struct {
	Hexes    []Hex    `json:"hexes"`
	Vertices []Vertex `json:"vertices"`
	Edges    []Edge   `json:"edges"`
	Ports    []Port   `json:"ports"`
}

func (b Board) hex(id int) (Hex, bool) {
	if id < 0 || id >= len(b.Hexes) {
		return Hex{}, false
	}
	return b.Hexes[id], true
}

func (b Board) vertex(id int) (Vertex, bool) {
	if id < 0 || id >= len(b.Vertices) {
		return Vertex{}, false
	}
	return b.Vertices[id], true
}

func (b Board) edge(id int) (Edge, bool) {
	if id < 0 || id >= len(b.Edges) {
		return Edge{}, false
	}
	return b.Edges[id], true
}

// Desert returns the first hex without a resource, or 0.
func (b Board) Desert() int {
	for _, h := range b.Hexes {
		if h.Resource == "" {
			return h.ID
		}
	}
	return 0
}

// HexVertices returns the vertices touching hex in ascending order.
func (b Board) HexVertices(hex int) []int {
	var out []int
	for _, v := range b.Vertices {
		if slices.Contains(v.Hexes, hex) {
			out = append(out, v.ID)
		}
	}
	return out
}

// EdgesAt returns the edges with v as an endpoint.
func (b Board) EdgesAt(v int) []int {
	var out []int
	for _, e := range b.Edges {
		if e.A == v || e.B == v {
			out = append(out, e.ID)
		}
	}
	return out
}

// Tile seeds one hex of a strip board.
type Tile struct {
	Resource resource.Kind
	Number   int
}

// NewStripBoard lays tiles out as a single row of pointy-top hexes.
//
// For n tiles, vertex ids are: top apex i (0..n-1), upper side n+j (j=0..n), lower side
// 2n+1+j, bottom apex 3n+2+i.
func NewStripBoard(tiles []Tile, ports []Port) Board {
	n := len(tiles)
	top := func(i int) int { return i }
	upper := func(j int) int { return n + j }
	lower := func(j int) int { return 2*n + 1 + j }
	bottom := func(i int) int { return 3*n + 2 + i }

	b := Board{Ports: ports}
	for i, t := range tiles {
		b.Hexes = append(b.Hexes, Hex{ID: i, Resource: t.Resource, Number: t.Number})
	}

	b.Vertices = make([]Vertex, 4*n+2)
	for i := range b.Vertices {
		b.Vertices[i].ID = i
	}
	addEdge := func(a, c int) {
		b.Edges = append(b.Edges, Edge{ID: len(b.Edges), A: a, B: c})
		b.Vertices[a].Neighbors = append(b.Vertices[a].Neighbors, c)
		b.Vertices[c].Neighbors = append(b.Vertices[c].Neighbors, a)
	}
	for i := 0; i < n; i++ {
		for _, v := range []int{top(i), upper(i), upper(i + 1), lower(i), lower(i + 1), bottom(i)} {
			b.Vertices[v].Hexes = append(b.Vertices[v].Hexes, i)
		}
	}
	for j := 0; j <= n; j++ {
		addEdge(upper(j), lower(j))
	}
	for i := 0; i < n; i++ {
		addEdge(upper(i), top(i))
		addEdge(top(i), upper(i+1))
		addEdge(lower(i), bottom(i))
		addEdge(bottom(i), lower(i+1))
	}
	for i := range b.Vertices {
		slices.Sort(b.Vertices[i].Neighbors)
	}
	return b
}

// DefaultBoard is the nine-tile strip used when the host does not supply one.
func DefaultBoard() Board {
	tiles := []Tile{
		{resource.Lumber, 8},
		{resource.Brick, 6},
		{resource.Wool, 5},
		{resource.Grain, 9},
		{"", 0},
		{resource.Ore, 10},
		{resource.Lumber, 4},
		{resource.Wool, 3},
		{resource.Grain, 11},
	}
	n := len(tiles)
	ports := []Port{
		{Vertices: []int{n, 2*n + 1}, Ratio: 3},
		{Vertices: []int{2}, Resource: resource.Wool, Ratio: 2},
		{Vertices: []int{2 * n, 3*n + 1}, Resource: resource.Ore, Ratio: 2},
	}
	return NewStripBoard(tiles, ports)
}
