package harvest

import "encoding/json"

// scrollScript pushes the page to the bottom so the next batch of comments
// lazy-loads. It returns the new scroll height.
const scrollScript = `(() => {
	const el = document.scrollingElement || document.documentElement;
	window.scrollTo(0, el.scrollHeight);
	return el.scrollHeight;
})()`

func countScript(selector string) string {
	sel, _ := json.Marshal(selector)
	return "document.querySelectorAll(" + string(sel) + ").length"
}
