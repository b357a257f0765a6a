package utils

import (
	"strings"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// Split2set 按分隔符切分字符串，去掉空项后转为set
func Split2set(s string, sep string) sets.Set {
	parts := strings.Split(s, sep)
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return List2set(items)
}
