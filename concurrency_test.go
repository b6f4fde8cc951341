// Copyright 2022 Erigon contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tablestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// N writer goroutines each insert their own row through the single-writer
// admission gate; every insert must succeed and all N rows must be
// visible to a reader afterwards.
func TestConcurrentWritersSerialize(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)

	const writers = 16
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			wtx, err := db.Begin(context.Background(), Write)
			if err != nil {
				return err
			}
			if err := wtx.Insert(td, t1Row(string(rune('a'+i)), uint64(i), float64(i))); err != nil {
				wtx.Abort()
				return err
			}
			return wtx.Commit()
		})
	}
	require.NoError(t, g.Wait())

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	cur, err := rtx.OpenCursor(td, "pk", Begin(), End(), CursorOptions{})
	require.NoError(t, err)
	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, writers, n)
}
