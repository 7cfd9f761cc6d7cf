// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// DefaultOutputFilename is the default name of a model dump.
const DefaultOutputFilename = "lcem_model.bin"

// Dump saves the snapshot of the model to a file.
func Dump(obj *Model, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to open model dump file %q for writing: %w", filename, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("failed to close model dump file %q: %w", filename, e)
		}
	}()
	if err = EncodeSnapshot(obj.Snapshot(), f); err != nil {
		return fmt.Errorf("failed to encode model dump: %w", err)
	}
	return nil
}

// Load reads a model dumped with Dump.
func Load(filename string) (_ *Model, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	s, err := DecodeSnapshot(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model dump %q: %w", filename, err)
	}
	return FromSnapshot(s)
}

// EncodeSnapshot writes the snapshot with gob, the description first.
func EncodeSnapshot(s Snapshot, w io.Writer) error {
	bw := bufio.NewWriter(w)
	encoder := gob.NewEncoder(bw)

	for _, chunk := range []any{s.Config, s.Params} {
		if err := encoder.Encode(chunk); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	decoder := gob.NewDecoder(bufio.NewReader(r))

	var s Snapshot
	if err := decoder.Decode(&s.Config); err != nil {
		return Snapshot{}, err
	}
	if err := decoder.Decode(&s.Params); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
