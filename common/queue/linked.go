package queue

import (
	"sync"

	ecommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// errors
var (
	ErrFullQueue = errors.New("full queue")
	ErrExistKey  = errors.New("exist key")
)

// LinkedQueue is designed to allow users to remove the item by the key
// A positive limit bounds the number of items, zero means unbounded
type LinkedQueue struct {
	sync.Mutex
	Head   *linkedItem
	Tail   *linkedItem
	limit  int
	keyMap map[ecommon.Hash]*linkedItem
}

// NewLinkedQueue make a LinkedQueue
func NewLinkedQueue(limit int) *LinkedQueue {
	q := &LinkedQueue{
		limit:  limit,
		keyMap: map[ecommon.Hash]*linkedItem{},
	}
	return q
}

// Size returns the number of items
func (q *LinkedQueue) Size() int {
	q.Lock()
	defer q.Unlock()

	return len(q.keyMap)
}

// Limit returns the capacity of the queue
func (q *LinkedQueue) Limit() int {
	return q.limit
}

// Has checks that the key is in the queue
func (q *LinkedQueue) Has(Key ecommon.Hash) bool {
	q.Lock()
	defer q.Unlock()

	_, has := q.keyMap[Key]
	return has
}

// Push inserts the item with the key at the bottom of the queue
func (q *LinkedQueue) Push(Key ecommon.Hash, item interface{}) error {
	q.Lock()
	defer q.Unlock()

	if _, has := q.keyMap[Key]; has {
		return ErrExistKey
	}
	if q.limit > 0 && len(q.keyMap) >= q.limit {
		return ErrFullQueue
	}

	nd := &linkedItem{
		Key:  Key,
		Item: item,
	}
	if q.Head == nil {
		q.Head = nd
		q.Tail = nd
	} else {
		nd.Prev = q.Tail
		q.Tail.Next = nd
		q.Tail = nd
	}
	q.keyMap[Key] = nd
	return nil
}

// Peek returns the item at the top of the queue without removing it
func (q *LinkedQueue) Peek() interface{} {
	q.Lock()
	defer q.Unlock()

	if q.Head == nil {
		return nil
	}
	return q.Head.Item
}

// Pop returns a item at the top of the queue
func (q *LinkedQueue) Pop() interface{} {
	q.Lock()
	defer q.Unlock()

	if q.Head == nil {
		return nil
	}
	return q.unlink(q.Head)
}

// Remove deletes a item by the key
func (q *LinkedQueue) Remove(Key ecommon.Hash) interface{} {
	q.Lock()
	defer q.Unlock()

	nd, has := q.keyMap[Key]
	if !has {
		return nil
	}
	return q.unlink(nd)
}

func (q *LinkedQueue) unlink(nd *linkedItem) interface{} {
	if nd.Next != nil {
		nd.Next.Prev = nd.Prev
	}
	if nd.Prev != nil {
		nd.Prev.Next = nd.Next
	}
	if nd == q.Head {
		q.Head = nd.Next
	}
	if nd == q.Tail {
		q.Tail = nd.Prev
	}
	nd.Prev = nil
	nd.Next = nil
	delete(q.keyMap, nd.Key)
	return nd.Item
}

type linkedItem struct {
	Prev *linkedItem
	Key  ecommon.Hash
	Item interface{}
	Next *linkedItem
}

// Iter iterates queue items from the top
func (q *LinkedQueue) Iter(fn func(Key ecommon.Hash, v interface{})) {
	q.Lock()
	defer q.Unlock()

	cur := q.Head
	for cur != nil {
		fn(cur.Key, cur.Item)
		cur = cur.Next
	}
}
