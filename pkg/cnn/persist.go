package cnn

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// snapshot is the serialized form of a network: its architecture and every
// parameter array in layer order. Optimizer state is not kept.
type snapshot struct {
	Input   Shape
	Specs   []LayerSpec
	Weights [][]float64
}

// Save writes the architecture and weights to w.
func (n *Network) Save(w io.Writer) error {
	snap := snapshot{Input: n.input, Specs: n.specs}
	for _, nd := range n.nodes {
		for _, p := range nd.op.params() {
			snap.Weights = append(snap.Weights, p.w)
		}
	}
	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode network: %w", err)
	}
	return nil
}

// Load reads a network written by Save.
func Load(r io.Reader) (*Network, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode network: %w", err)
	}

	n, err := Build(snap.Specs, snap.Input, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild network: %w", err)
	}

	i := 0
	for _, nd := range n.nodes {
		for _, p := range nd.op.params() {
			if i >= len(snap.Weights) || len(snap.Weights[i]) != len(p.w) {
				return nil, fmt.Errorf("saved weights do not match layer %q", nd.info.Name)
			}
			copy(p.w, snap.Weights[i])
			i++
		}
	}
	if i != len(snap.Weights) {
		return nil, fmt.Errorf("saved network has %d weight arrays, expected %d", len(snap.Weights), i)
	}
	return n, nil
}

// SaveFile writes the network to path, creating parent directories.
func (n *Network) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := n.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a network from path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
