package services

import "sync"

// Draft is the text in the message input.
type Draft struct {
	mu   sync.Mutex
	text string
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Draft) Clear() { d.Set("") }

// Restore puts back the text of a failed send. Anything typed since then is
// kept after it on a new line.
func (d *Draft) Restore(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text == "" {
		d.text = text
		return
	}
	d.text = text + "\n" + d.text
}
