package capture

import (
	"strings"
)

const disableAnimationStyle = `*, *::before, *::after {
  transition-duration: 0s !important;
  transition-delay: 0s !important;
  animation-duration: 0s !important;
  animation-delay: 0s !important;
  animation-iteration-count: 1 !important;
  caret-color: transparent !important;
}`

// hideStyle keeps the elements in layout.
func hideStyle(selectors []string) string {
	return strings.Join(selectors, ",") + " { visibility: hidden !important; }"
}

func removeStyle(selectors []string) string {
	return strings.Join(selectors, ",") + " { display: none !important; }"
}
