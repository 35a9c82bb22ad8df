// Package testing provides a conformance suite for store.Store
// implementations.
package testing

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/grainweb/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the store.Store contract, not implementation details,
// so it is shared by every backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Open_NotFound", suite.testOpenNotFound)
	t.Run("Replace_ThenOpen", suite.testReplaceThenOpen)
	t.Run("Replace_Overwrites", suite.testReplaceOverwrites)
	t.Run("Replace_Empty", suite.testReplaceEmpty)
	t.Run("List_Sorted", suite.testListSorted)
	t.Run("Remove", suite.testRemove)
	t.Run("Remove_Missing", suite.testRemoveMissing)
	t.Run("InvalidNames", suite.testInvalidNames)
	t.Run("ConcurrentReplace", suite.testConcurrentReplace)
}

func (suite *StoreTestSuite) newStore(t *testing.T) store.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// MustRead opens name and returns its full content, checking Size.
func MustRead(t *testing.T, s store.Reader, name string) []byte {
	t.Helper()

	obj, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size())
	return data
}

func (suite *StoreTestSuite) testOpenNotFound(t *testing.T) {
	s := suite.newStore(t)

	_, err := s.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testReplaceThenOpen(t *testing.T) {
	s := suite.newStore(t)
	data := []byte("Hello, World!")

	require.NoError(t, s.Replace(context.Background(), "hello.txt", data))
	assert.Equal(t, data, MustRead(t, s, "hello.txt"))
}

func (suite *StoreTestSuite) testReplaceOverwrites(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, "note", []byte("a much longer first version")))
	require.NoError(t, s.Replace(ctx, "note", []byte("short")))
	assert.Equal(t, []byte("short"), MustRead(t, s, "note"))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"note"}, names)
}

func (suite *StoreTestSuite) testReplaceEmpty(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Replace(context.Background(), "empty", nil))
	assert.Empty(t, MustRead(t, s, "empty"))
}

func (suite *StoreTestSuite) testListSorted(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Replace(ctx, n, []byte(n)))
	}

	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, "gone", []byte("x")))
	require.NoError(t, s.Remove(ctx, "gone"))

	_, err := s.Open(ctx, "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testRemoveMissing(t *testing.T) {
	s := suite.newStore(t)

	err := s.Remove(context.Background(), "never-existed")
	if err != nil {
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
}

func (suite *StoreTestSuite) testInvalidNames(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "../etc/passwd", "a//b", "./x", "/abs", "dir/"} {
		_, err := s.Open(ctx, name)
		assert.ErrorIs(t, err, store.ErrInvalidName, "open %q", name)

		err = s.Replace(ctx, name, []byte("x"))
		assert.ErrorIs(t, err, store.ErrInvalidName, "replace %q", name)

		err = s.Remove(ctx, name)
		assert.ErrorIs(t, err, store.ErrInvalidName, "remove %q", name)
	}
}

// testConcurrentReplace checks readers only ever see a complete version.
func (suite *StoreTestSuite) testConcurrentReplace(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	versionA := bytes.Repeat([]byte("A"), 64*1024)
	versionB := bytes.Repeat([]byte("B"), 32*1024)
	require.NoError(t, s.Replace(ctx, "doc", versionA))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			v := versionA
			if i%2 == 0 {
				v = versionB
			}
			assert.NoError(t, s.Replace(ctx, "doc", v))
		}
		close(stop)
	}()

	for reader := 0; reader < 4; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				obj, err := s.Open(ctx, "doc")
				if !assert.NoError(t, err) {
					return
				}
				data, err := io.ReadAll(obj)
				_ = obj.Close()
				if !assert.NoError(t, err) {
					return
				}
				if !bytes.Equal(data, versionA) && !bytes.Equal(data, versionB) {
					t.Errorf("observed torn read of %d bytes", len(data))
					return
				}
			}
		}()
	}

	wg.Wait()
}
