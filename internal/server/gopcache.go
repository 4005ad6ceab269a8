package server

import "container/list"

// cachedFrame is one audio or video frame retained in a gopCache so a
// newly joined player can be fast-started instead of waiting for the
// next keyframe, mirroring the teacher's RTMPPacket entries in
// rtmpGopCache.
type cachedFrame struct {
	isVideo   bool
	timestamp uint32
	payload   []byte
}

const gopCacheFrameOverhead = 64

// gopCache holds frames since the last keyframe, evicting from the
// front once the configured byte budget is exceeded.
type gopCache struct {
	frames   *list.List
	size     int64
	limit    int64
	disabled bool
}

func newGopCache(limitBytes int64) *gopCache {
	return &gopCache{
		frames: list.New(),
		limit:  limitBytes,
	}
}

func (g *gopCache) push(frame cachedFrame) {
	if g.disabled {
		return
	}

	g.frames.PushBack(frame)
	g.size += int64(len(frame.payload)) + gopCacheFrameOverhead

	for g.size > g.limit {
		front := g.frames.Front()
		if front == nil {
			break
		}
		evicted := front.Value.(cachedFrame)
		g.size -= int64(len(evicted.payload)) + gopCacheFrameOverhead
		g.frames.Remove(front)
	}
}

// resetOnKeyframe clears the cache when a new keyframe starts a fresh
// GOP, same trigger the teacher uses in HandleVideoPacket.
func (g *gopCache) resetOnKeyframe() {
	g.frames = list.New()
	g.size = 0
}

func (g *gopCache) clearAndDisable() {
	g.frames = list.New()
	g.size = 0
	g.disabled = true
}

func (g *gopCache) forEach(fn func(cachedFrame)) {
	for e := g.frames.Front(); e != nil; e = e.Next() {
		fn(e.Value.(cachedFrame))
	}
}

func (g *gopCache) len() int {
	return g.frames.Len()
}
