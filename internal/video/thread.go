package video

import (
	"sort"
	"time"
)

// CommentRow is one flat persisted comment record, before threading.
type CommentRow struct {
	ID         string
	ParentID   *string
	Author     string
	Body       string
	TimecodeMs int64
	Role       string
	CreatedAt  time.Time
}

// CommentNode is a comment with its replies attached. The forest is a view
// derived on every read; only flat rows are stored.
type CommentNode struct {
	ID         string         `json:"id"`
	TimecodeMs int64          `json:"timecodeMs"`
	Body       string         `json:"body"`
	Author     string         `json:"author,omitempty"`
	CreatedAt  string         `json:"createdAt"`
	ParentID   *string        `json:"parentId,omitempty"`
	Role       string         `json:"role"`
	Replies    []*CommentNode `json:"replies"`

	at time.Time
}

// BuildThread turns flat comment rows into a reply forest. A row whose parent
// is not in the batch (deleted, or outside the fetch window) is promoted to a
// root rather than dropped. Siblings at every level sort by timecode, then by
// creation time; the sort is stable.
func BuildThread(rows []CommentRow) []*CommentNode {
	nodes := make(map[string]*CommentNode, len(rows))
	ordered := make([]*CommentNode, 0, len(rows))
	for _, row := range rows {
		n := &CommentNode{
			ID:         row.ID,
			TimecodeMs: row.TimecodeMs,
			Body:       row.Body,
			Author:     row.Author,
			CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
			ParentID:   row.ParentID,
			Role:       row.Role,
			Replies:    []*CommentNode{},
			at:         row.CreatedAt,
		}
		nodes[row.ID] = n
		ordered = append(ordered, n)
	}

	roots := []*CommentNode{}
	for _, n := range ordered {
		if n.ParentID != nil {
			if parent, ok := nodes[*n.ParentID]; ok && parent != n {
				parent.Replies = append(parent.Replies, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	sortSiblings(roots)
	return roots
}

func sortSiblings(nodes []*CommentNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].TimecodeMs != nodes[j].TimecodeMs {
			return nodes[i].TimecodeMs < nodes[j].TimecodeMs
		}
		return nodes[i].at.Before(nodes[j].at)
	})
	for _, n := range nodes {
		sortSiblings(n.Replies)
	}
}
