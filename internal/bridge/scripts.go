package bridge

import (
	"encoding/json"
	"fmt"
)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func installScript(gen string) string {
	return fmt.Sprintf(`(() => {
	const gen = %s;
	if (window.__harvestBridge && window.__harvestBridge.gen === gen) return true;
	const b = { gen: gen, pong: false, acks: {}, exports: {} };
	window.__harvestBridge = b;
	window.addEventListener("message", (e) => {
		if (e.source !== window || !e.data || e.data.source !== %s) return;
		const m = e.data;
		if (m.type === "pong") b.pong = true;
		if (m.type === "expand-ack") b.acks[m.id] = { expanded: m.expanded || 0, done: !!m.done };
		if (m.type === "export-ack") b.exports[m.id] = m.text || "";
	});
	return true;
})()`, jsString(gen), jsString(SourceExtension))
}

func postScript(msgJSON string) string {
	return fmt.Sprintf(`(window.postMessage(%s, "*"), true)`, msgJSON)
}

func pongScript(gen string) string {
	return fmt.Sprintf(`(() => {
	const b = window.__harvestBridge;
	return !!(b && b.gen === %s && b.pong);
})()`, jsString(gen))
}

func ackScript(gen, id string) string {
	return fmt.Sprintf(`(() => {
	const b = window.__harvestBridge;
	if (!b || b.gen !== %s) return { present: false };
	const a = b.acks[%s];
	return a ? { present: true, found: true, expanded: a.expanded, done: a.done } : { present: true, found: false };
})()`, jsString(gen), jsString(id))
}

func exportScript(gen, id string) string {
	return fmt.Sprintf(`(() => {
	const b = window.__harvestBridge;
	if (!b || b.gen !== %s) return { present: false };
	const t = b.exports[%s];
	return t === undefined ? { present: true, found: false } : { present: true, found: true, text: t };
})()`, jsString(gen), jsString(id))
}
