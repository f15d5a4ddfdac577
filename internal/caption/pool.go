package caption

import (
	"image"
	"sync"
)

// imagePool reuses caption canvases of equal size. Captions for one video share a
// width and usually a line count, so most renders hit the same bucket.
type imagePool struct {
	mu    sync.RWMutex
	pools map[image.Rectangle]*sync.Pool
}

func newImagePool() *imagePool {
	return &imagePool{pools: make(map[image.Rectangle]*sync.Pool)}
}

// get returns a transparent canvas with the given bounds.
func (p *imagePool) get(rect image.Rectangle) *image.RGBA {
	p.mu.RLock()
	pool, ok := p.pools[rect]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		pool, ok = p.pools[rect]
		if !ok {
			pool = &sync.Pool{
				New: func() any {
					return image.NewRGBA(rect)
				},
			}
			p.pools[rect] = pool
		}
		p.mu.Unlock()
	}

	img := pool.Get().(*image.RGBA)
	clear(img.Pix)
	return img
}

func (p *imagePool) put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect]
	p.mu.RUnlock()
	if ok {
		pool.Put(img)
	}
}
