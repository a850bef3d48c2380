package id

import (
	"fmt"
	"time"

	"github.com/sony/sonyflake"
)

// snowflakeEpoch fixed start time, lock ids keep growing across restarts
var snowflakeEpoch = time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC)

type snowflakeGenerator struct {
	machineID uint16
	flake     *sonyflake.Sonyflake
}

// NewSnowflakeGenerator returns a generator whose ids are unique across
// nodes with distinct machine ids
func NewSnowflakeGenerator(machineID uint16) (Generator, error) {
	flake := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: snowflakeEpoch,
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	})
	if flake == nil {
		return nil, fmt.Errorf("snowflake generator of machine %d not created", machineID)
	}

	return &snowflakeGenerator{
		machineID: machineID,
		flake:     flake,
	}, nil
}

func (g *snowflakeGenerator) Gen() (uint64, error) {
	value, err := g.flake.NextID()
	if err != nil {
		return 0, fmt.Errorf("machine %d: %w, %v", g.machineID, ErrExhausted, err)
	}
	return value, nil
}
