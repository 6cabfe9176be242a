package scheduler

import "fmt"

// Bans remembers images that failed backend setup so the scheduler
// stops trying to spawn them until a cache reload clears the slate.
type Bans struct {
	images map[string]string
}

func NewBans() *Bans {
	return &Bans{images: make(map[string]string)}
}

func banKey(group, image string) string {
	return fmt.Sprintf("%s/%s", group, image)
}

// BanImage records why an image cannot currently be spawned.
func (b *Bans) BanImage(group, image, reason string) {
	b.images[banKey(group, image)] = reason
}

// ImageBanned reports whether an image is banned and why.
func (b *Bans) ImageBanned(group, image string) (string, bool) {
	reason, ok := b.images[banKey(group, image)]
	return reason, ok
}

// Clear drops all bans, giving every image a fresh chance.
func (b *Bans) Clear() {
	b.images = make(map[string]string)
}

// Len is the number of active bans.
func (b *Bans) Len() int {
	return len(b.images)
}
