package registry

import "strings"

// Separator joins an adapter id and a tool name. Adapter ids never contain
// '_' and tool names never contain "__", so the first occurrence always
// splits correctly.
const Separator = "__"

// Join builds the namespaced name agents see.
func Join(adapterID, tool string) string {
	return adapterID + Separator + tool
}

// Split reverses Join. ok is false when name has no separator or either
// part is empty.
func Split(name string) (adapterID, tool string, ok bool) {
	adapterID, tool, ok = strings.Cut(name, Separator)
	if !ok || adapterID == "" || tool == "" {
		return "", "", false
	}
	return adapterID, tool, true
}
