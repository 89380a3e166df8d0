package adapters

import "strings"

// forEachEvent walks the SSE events contained in an ordered chunk sequence.
// Each chunk may hold one or many complete events; events never straddle
// chunk boundaries (SSE framing guarantee). fn receives the event name (""
// for plain data events) and the joined data payload; returning false stops
// the walk.
func forEachEvent(chunks []string, fn func(event, data string) bool) {
	for _, chunk := range chunks {
		for _, block := range strings.Split(chunk, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}

			event := ""
			var datas []string
			for _, line := range strings.Split(block, "\n") {
				if after, ok := strings.CutPrefix(line, "event:"); ok {
					event = strings.TrimSpace(after)
				} else if after, ok := strings.CutPrefix(line, "data:"); ok {
					datas = append(datas, strings.TrimSpace(after))
				}
			}
			if len(datas) == 0 {
				continue
			}
			if !fn(event, strings.Join(datas, "\n")) {
				return
			}
		}
	}
}
