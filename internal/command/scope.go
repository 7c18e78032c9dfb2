package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jasona/mudforge-sub005/internal/world"
)

// ResolveTarget resolves a target phrase against the player's scope.
// Returns the matched objects, or a player-facing failure message.
//
//	"me"/"self"/"myself"  the player
//	"here"                the environment
//	"deer"                first object whose Id matches
//	"deer 2"              second match, 1-indexed
//	"all"                 every object in scope
//	"all deer"            every matching object
func ResolveTarget(p *world.Player, phrase string) ([]*world.Object, string) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, "Target what?"
	}

	switch strings.ToLower(phrase) {
	case "me", "self", "myself":
		return []*world.Object{p.Object}, ""
	case "here":
		if env := p.Env(); env != nil {
			return []*world.Object{env}, ""
		}
		return nil, "You are nowhere."
	case "all":
		objs := scopeObjects(p)
		if len(objs) == 0 {
			return nil, "There is nothing here."
		}
		return objs, ""
	}

	name := phrase
	index := 0
	wantAll := false

	if rest, ok := strings.CutPrefix(strings.ToLower(phrase), "all "); ok {
		wantAll = true
		name = strings.TrimSpace(rest)
	} else if head, tail, ok := cutLastToken(phrase); ok {
		if n, err := strconv.Atoi(tail); err == nil && n > 0 {
			name = head
			index = n
		}
	}

	var matches []*world.Object
	for _, o := range scopeObjects(p) {
		if o.Id(name) {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Sprintf("There is no %s here.", name)
	}
	if wantAll {
		return matches, ""
	}
	if index == 0 {
		return matches[:1], ""
	}
	if index > len(matches) {
		return nil, fmt.Sprintf("There are only %d %s here.", len(matches), name)
	}
	return []*world.Object{matches[index-1]}, ""
}

// ResolveOne resolves a phrase expected to name a single target.
func ResolveOne(p *world.Player, phrase string) (*world.Object, string) {
	objs, msg := ResolveTarget(p, phrase)
	if msg != "" {
		return nil, msg
	}
	return objs[0], ""
}

func cutLastToken(s string) (head, tail string, ok bool) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}
