package source

import "container/list"

type chunkEntry struct {
	index int64
	data  []byte
}

// chunkCache is a fixed-capacity LRU of fetched chunks keyed by chunk index.
// It is not safe for concurrent use.
type chunkCache struct {
	max   int
	ll    *list.List
	items map[int64]*list.Element
}

func newChunkCache(max int) *chunkCache {
	return &chunkCache{
		max:   max,
		ll:    list.New(),
		items: make(map[int64]*list.Element),
	}
}

func (c *chunkCache) add(index int64, data []byte) {
	if e, ok := c.items[index]; ok {
		c.ll.MoveToFront(e)
		e.Value.(*chunkEntry).data = data
		return
	}
	c.items[index] = c.ll.PushFront(&chunkEntry{index: index, data: data})
	if c.max > 0 && c.ll.Len() > c.max {
		c.removeOldest()
	}
}

func (c *chunkCache) get(index int64) ([]byte, bool) {
	e, ok := c.items[index]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*chunkEntry).data, true
}

func (c *chunkCache) len() int { return c.ll.Len() }

func (c *chunkCache) removeOldest() {
	e := c.ll.Back()
	if e == nil {
		return
	}
	c.ll.Remove(e)
	delete(c.items, e.Value.(*chunkEntry).index)
}

func (c *chunkCache) clear() {
	c.ll.Init()
	c.items = make(map[int64]*list.Element)
}
