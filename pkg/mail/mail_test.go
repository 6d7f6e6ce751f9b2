package mail

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nbaertsch/squadron/pkg/models"
)

func TestQueueDrainIsExclusive(t *testing.T) {
	q := &Queue{}
	q.Push(models.MailMessage{Body: "one"})
	q.Push(models.MailMessage{Body: "two"})

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Empty(t, q.Drain())
}

func TestInboxConcurrentWritersSingleReader(t *testing.T) {
	ib := &Inbox{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ib.Push(models.Event{DeliveryID: "d"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, ib.Len())
	assert.Len(t, ib.Drain(), 50)
	assert.Equal(t, 0, ib.Len())
}

func TestCenterForgetDropsBothStructures(t *testing.T) {
	c := NewCenter()
	c.Inbox("a1").Push(models.Event{})
	c.Queue("a1").Push(models.MailMessage{Body: "hi"})

	c.Forget("a1")

	assert.Equal(t, 0, c.Inbox("a1").Len())
	assert.Empty(t, c.Queue("a1").Drain())
}
