package raster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"docRender/internal/errcode"
)

type SelectorKind string

const (
	SelectAll   SelectorKind = "all"
	SelectFirst SelectorKind = "first"
	SelectList  SelectorKind = "list"
)

// PageSelector 决定渲染哪些页，零值表示只渲染第一页。
type PageSelector struct {
	Kind  SelectorKind
	Pages []int
}

func All() PageSelector { return PageSelector{Kind: SelectAll} }

func First() PageSelector { return PageSelector{Kind: SelectFirst} }

// Pages 按给定顺序选择页码（从 1 开始）。
func Pages(ns ...int) PageSelector {
	return PageSelector{Kind: SelectList, Pages: append([]int(nil), ns...)}
}

func (s PageSelector) kind() SelectorKind {
	if s.Kind == "" {
		return SelectFirst
	}
	return s.Kind
}

// Validate 在不知道页数时做静态校验。
func (s PageSelector) Validate() error {
	switch s.kind() {
	case SelectAll, SelectFirst:
		return nil
	case SelectList:
		if len(s.Pages) == 0 {
			return fmt.Errorf("empty page list: %w", errcode.ErrConversion)
		}
		for _, n := range s.Pages {
			if n < 1 {
				return fmt.Errorf("page number %d out of range: %w", n, errcode.ErrConversion)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown page selector %q: %w", s.Kind, errcode.ErrConversion)
	}
}

// Resolve 根据实际页数展开为页码列表。
func (s PageSelector) Resolve(pageCount int) ([]int, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if pageCount <= 0 {
		return nil, fmt.Errorf("document has no pages: %w", errcode.ErrConversion)
	}

	switch s.kind() {
	case SelectFirst:
		return []int{1}, nil
	case SelectAll:
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	default:
		for _, n := range s.Pages {
			if n > pageCount {
				return nil, fmt.Errorf("page %d exceeds page count %d: %w", n, pageCount, errcode.ErrConversion)
			}
		}
		return append([]int(nil), s.Pages...), nil
	}
}

func (s PageSelector) String() string {
	if s.kind() != SelectList {
		return string(s.kind())
	}
	parts := make([]string, len(s.Pages))
	for i, n := range s.Pages {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON 输出 "all"、"first" 或页码数组。
func (s PageSelector) MarshalJSON() ([]byte, error) {
	if s.kind() == SelectList {
		return json.Marshal(s.Pages)
	}
	return json.Marshal(string(s.kind()))
}

// UnmarshalJSON 接受 "all"、"first"、页码数组或 null。
func (s *PageSelector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = First()
		return nil
	}

	if data[0] == '[' {
		var pages []int
		if err := json.Unmarshal(data, &pages); err != nil {
			return fmt.Errorf("decode page list: %w", err)
		}
		*s = Pages(pages...)
		return s.Validate()
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode page selector: %w", err)
	}
	switch SelectorKind(strings.ToLower(strings.TrimSpace(name))) {
	case SelectAll:
		*s = All()
	case SelectFirst, "":
		*s = First()
	default:
		return fmt.Errorf("unknown page selector %q: %w", name, errcode.ErrConversion)
	}
	return nil
}
