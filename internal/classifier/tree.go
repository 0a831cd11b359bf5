// Package classifier loads the pre-trained decision tree and evaluates it.
//
// The model is exported offline to a JSON artifact (nodes laid out flat with
// child indices, sklearn-style left-on-<=). The service treats it as an
// opaque capability: load once at startup, then read-only.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"example.com/diapredict/internal/domain"
)

// ErrModelUnavailable indicates the model artifact could not be loaded.
// This is a startup precondition failure, not a per-request error.
var ErrModelUnavailable = errors.New("classification model unavailable")

type node struct {
	// Feature is the vector slot tested at this node; nil marks a leaf.
	Feature       *int      `json:"feature,omitempty"`
	Threshold     float64   `json:"threshold,omitempty"`
	Left          int       `json:"left,omitempty"`
	Right         int       `json:"right,omitempty"`
	Class         int       `json:"class,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// Tree is an immutable decision tree classifier.
type Tree struct {
	Name         string   `json:"name"`
	FeatureNames []string `json:"feature_names"`
	Nodes        []node   `json:"nodes"`
}

// Load reads and validates the model artifact at path. Any failure wraps
// ErrModelUnavailable so callers can treat it as fatal.
func Load(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var tree Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err := tree.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &tree, nil
}

func (t *Tree) validate() error {
	if len(t.Nodes) == 0 {
		return errors.New("model has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Feature == nil {
			if len(n.Probabilities) == 0 {
				return fmt.Errorf("leaf %d has no probabilities", i)
			}
			if n.Class < 0 || n.Class >= len(n.Probabilities) {
				return fmt.Errorf("leaf %d class %d out of range", i, n.Class)
			}
			continue
		}
		if *n.Feature < 0 || *n.Feature >= domain.FeatureCount {
			return fmt.Errorf("node %d feature index %d out of range", i, *n.Feature)
		}
		if n.Left < 0 || n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d child index out of range", i)
		}
	}
	return nil
}

// Predict walks the tree and returns the predicted class together with the
// class probability distribution at the reached leaf.
func (t *Tree) Predict(vector domain.FeatureVector) (int, []float64) {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Feature == nil {
			return n.Class, n.Probabilities
		}
		if vector[*n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}
