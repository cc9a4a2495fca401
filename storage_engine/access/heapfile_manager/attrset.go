package heapfile

import (
	"fmt"
	"strings"

	"github.com/weaviate/sroar"
)

// AttrSet is a set of 1-based attribute numbers. A nil *AttrSet is the
// empty set for every read-only method.
type AttrSet struct {
	bm *sroar.Bitmap
}

func NewAttrSet(attnums ...int) *AttrSet {
	s := &AttrSet{bm: sroar.NewBitmap()}
	for _, a := range attnums {
		s.Add(a)
	}
	return s
}

// AttrRange is {1..natts}.
func AttrRange(natts int) *AttrSet {
	s := NewAttrSet()
	for a := 1; a <= natts; a++ {
		s.Add(a)
	}
	return s
}

func (s *AttrSet) Add(attnum int) {
	if attnum < 1 {
		return
	}
	s.bm.Set(uint64(attnum))
}

func (s *AttrSet) Contains(attnum int) bool {
	if s == nil || attnum < 1 {
		return false
	}
	return s.bm.Contains(uint64(attnum))
}

func (s *AttrSet) IsEmpty() bool {
	return s == nil || s.bm.IsEmpty()
}

func (s *AttrSet) Len() int {
	if s == nil {
		return 0
	}
	return s.bm.GetCardinality()
}

// Max is the highest member, 0 for the empty set.
func (s *AttrSet) Max() int {
	if s.IsEmpty() {
		return 0
	}
	return int(s.bm.Maximum())
}

func (s *AttrSet) Members() []int {
	if s == nil {
		return nil
	}
	arr := s.bm.ToArray()
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	return out
}

func (s *AttrSet) Clone() *AttrSet {
	if s == nil {
		return NewAttrSet()
	}
	return &AttrSet{bm: s.bm.Clone()}
}

// Union returns s ∪ o as a new set.
func (s *AttrSet) Union(o *AttrSet) *AttrSet {
	out := s.Clone()
	if o != nil {
		out.bm.Or(o.bm)
	}
	return out
}

// Intersect returns s ∩ o as a new set.
func (s *AttrSet) Intersect(o *AttrSet) *AttrSet {
	if o == nil {
		return NewAttrSet()
	}
	out := s.Clone()
	out.bm.And(o.bm)
	return out
}

// SubsetOf reports s ⊆ o.
func (s *AttrSet) SubsetOf(o *AttrSet) bool {
	for _, a := range s.Members() {
		if !o.Contains(a) {
			return false
		}
	}
	return true
}

func (s *AttrSet) Equal(o *AttrSet) bool {
	return s.Len() == o.Len() && s.SubsetOf(o)
}

func (s *AttrSet) String() string {
	members := s.Members()
	parts := make([]string, len(members))
	for i, a := range members {
		parts[i] = fmt.Sprint(a)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
