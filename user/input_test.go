package user

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library/lwwset/communication"
	"library/lwwset/replica"
)

func startReplicas(t *testing.T, n int) []*replica.Replica[int] {
	t.Helper()
	channels := map[string]chan communication.Message{}
	for i := 0; i < n; i++ {
		channels[strconv.Itoa(i)] = make(chan communication.Message)
	}
	replicas := make([]*replica.Replica[int], n)
	for i := range replicas {
		replicas[i] = replica.NewReplica[int](strconv.Itoa(i), channels)
	}
	t.Cleanup(func() {
		for _, r := range replicas {
			r.Stop()
		}
	})
	return replicas
}

func TestRunInputAppliesCommands(t *testing.T) {
	replicas := startReplicas(t, 2)

	in := strings.NewReader("1 add 5\n1 add 6\n1 rem 5\n2 add 7\n1 query\n\n2 add 8\n")
	var out bytes.Buffer
	require.NoError(t, RunInput(in, &out, replicas))

	assert.Equal(t, []int{6}, replicas[0].Values())
	assert.Equal(t, []int{7}, replicas[1].Values())
	assert.Contains(t, out.String(), "[6]")
	// Input after the empty line is ignored.
	assert.False(t, replicas[1].Lookup(8))
}

func TestRunInputSync(t *testing.T) {
	replicas := startReplicas(t, 2)

	in := strings.NewReader("1 add 1\n2 add 2\n1 sync 2\n")
	var out bytes.Buffer
	require.NoError(t, RunInput(in, &out, replicas))

	assert.Eventually(t, func() bool {
		return replicas[0].Lookup(2) && replicas[1].Lookup(1)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunInputBroadcast(t *testing.T) {
	replicas := startReplicas(t, 3)

	in := strings.NewReader("3 add 9\nsync\n")
	var out bytes.Buffer
	require.NoError(t, RunInput(in, &out, replicas))

	assert.Contains(t, out.String(), "broadcasted 3 states")
	assert.Eventually(t, func() bool {
		return replicas[0].Lookup(9) && replicas[1].Lookup(9)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunInputReportsInvalidInput(t *testing.T) {
	replicas := startReplicas(t, 1)

	in := strings.NewReader("x add 1\n4 add 1\n1 jump\n1 add\n1 add one\n1 rem 3\n1 sync 9\nhello\n")
	var out bytes.Buffer
	require.NoError(t, RunInput(in, &out, replicas))

	assert.Equal(t, 8, strings.Count(out.String(), "Invalid input"))
	assert.Contains(t, out.String(), "element is not in the set")
	assert.Empty(t, replicas[0].Values())
}
