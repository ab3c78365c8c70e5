// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"go.varlink.dev/varlink/internal/service"
	"go.varlink.dev/varlink/syntax"
)

// DefaultModelCacheSize bounds how many interfaces' parsed descriptions
// a Client keeps memoized at once, evicting least-recently-used entries
// past that.
const DefaultModelCacheSize = 64

// ModelCache memoizes the parsed syntax.Model of an interface, fetched
// once via org.varlink.service.GetInterfaceDescription and reused for
// argument validation on every subsequent call to that interface.
//
// The zero value is usable; a Model for an interface not yet seen is
// fetched lazily by Model.
type ModelCache struct {
	once  sync.Once
	cache *lru.Cache[string, *syntax.Model]
}

func (c *ModelCache) init() {
	c.once.Do(func() {
		c.cache, _ = lru.New[string, *syntax.Model](DefaultModelCacheSize)
	})
}

// Get returns the cached model for intf, if any.
func (c *ModelCache) Get(intf string) (*syntax.Model, bool) {
	c.init()
	return c.cache.Get(intf)
}

// Put memoizes the model for intf, evicting the least-recently-used
// entry if the cache is full. A fresh fetch always overwrites a
// previous entry: remote text wins on refresh.
func (c *ModelCache) Put(intf string, model *syntax.Model) {
	c.init()
	c.cache.Add(intf, model)
}

// Model returns the memoized type model for intf, fetching and parsing
// its description from the peer over client if it isn't cached yet.
func (c *Client) Model(ctx context.Context, intf string) (*syntax.Model, error) {
	if model, ok := c.cache.Get(intf); ok {
		return model, nil
	}

	rs, err := c.Call(ctx, service.InterfaceName+".GetInterfaceDescription", &service.GetInterfaceDescriptionInput{Interface: intf})
	if err != nil {
		return nil, err
	}
	if !rs.Next() {
		return nil, rs.Error()
	}

	var out service.GetInterfaceDescriptionOutput
	if verr := rs.Unmarshal(&out); verr != nil {
		return nil, verr
	}

	def, perr := syntax.NewParser(strings.NewReader(out.Description)).Parse()
	if perr != nil {
		ierr, _ := perr.(*syntax.Error)
		return nil, &IDLError{Interface: intf, Err: ierr}
	}

	model := syntax.NewModel(def)
	c.cache.Put(intf, model)
	return model, nil
}
