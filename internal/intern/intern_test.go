package intern

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternEquality(t *testing.T) {
	a := Intern("idVendor")
	b := Intern("idVendor")
	c := Intern("idProduct")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "idVendor", a.String())
	assert.Equal(t, "idProduct", c.String())
}

func TestInternZeroValue(t *testing.T) {
	z := Intern("")
	assert.True(t, z.IsZero())
	assert.Equal(t, "", z.String())
}

func TestInternConcurrentSameString(t *testing.T) {
	const n = 64
	handles := make([]String, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			handles[i] = Intern("concurrent-value")
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.True(t, handles[0].Equal(handles[i]))
	}
}
