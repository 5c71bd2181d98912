package cache

import (
	"strings"
	"sync"
	"time"
)

// LRUCache is the in-process level of MultiLevelCache: a doubly linked list
// plus map, O(1) for every operation, with a per-entry TTL.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
	now      func() time.Time
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
		now:      time.Now,
	}
}

// Get returns a copy of the entry so callers cannot mutate cached state.
func (c *LRUCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	node.entry.HitCount++
	cp := *node.entry
	return &cp, true
}

func (c *LRUCache) Set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *entry
	if node, ok := c.items[key]; ok {
		node.entry = &cp
		node.expiresAt = c.now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{key: key, entry: &cp, expiresAt: c.now().Add(c.ttl)}
	c.items[key] = node
	c.addToHead(node)
}

func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

// DeletePrefix removes every key starting with prefix and reports how many.
func (c *LRUCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, node := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeNode(node)
			delete(c.items, key)
			n++
		}
	}
	return n
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

// Len returns the number of entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *LRUCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *LRUCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *LRUCache) evictTail() {
	if c.tail == nil {
		return
	}
	tail := c.tail
	delete(c.items, tail.key)
	c.removeNode(tail)
}
