package dashboard

import (
	"errors"
	"net/http"
	"sort"

	"github.com/fagongzi/util/format"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/server"
	"github.com/infinivision/shardledger/pkg/util"
	"github.com/labstack/echo"
)

const (
	succeed = 0
	failed  = 1
)

const (
	defaultLimit = 50
	maxBodySize  = 64 * 1024
)

var (
	errMissingParam = errors.New("missing param")
)

// JSONResult json result
type JSONResult struct {
	Code  int         `json:"code"`
	Value interface{} `json:"value,omitempty"`
}

type lockView struct {
	Shard meta.ShardID     `json:"shard"`
	Locks []meta.StateLock `json:"locks"`
}

type statsView struct {
	server.Stats
	Memory *util.MemoryUsage `json:"memory,omitempty"`
}

func readUInt64Param(name string, ctx echo.Context) (uint64, error) {
	param := ctx.Param(name)
	if param == "" {
		return 0, errMissingParam
	}

	value, err := format.ParseStrUInt64(param)
	if err != nil {
		return 0, err
	}

	return value, nil
}

func failedResult(err error) JSONResult {
	return JSONResult{
		Code:  failed,
		Value: err.Error(),
	}
}

func (s *Dashboard) topology() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: s.api.Topology(),
		})
	}
}

func (s *Dashboard) pendingTopology() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		value := s.api.PendingTopology()
		if value == nil {
			return ctx.NoContent(http.StatusNotFound)
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) registry() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		epoch, err := readUInt64Param("epoch", ctx)
		if err != nil {
			return ctx.NoContent(http.StatusBadRequest)
		}

		value, err := s.api.Registry(meta.EpochID(epoch))
		if err != nil {
			return ctx.JSON(http.StatusOK, failedResult(err))
		}
		if value == nil {
			return ctx.NoContent(http.StatusNotFound)
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) transactions() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		limit := uint64(defaultLimit)
		if param := ctx.QueryParam("limit"); param != "" {
			value, err := format.ParseStrUInt64(param)
			if err != nil {
				return ctx.NoContent(http.StatusBadRequest)
			}
			limit = value
		}

		shard := int64(-1)
		if param := ctx.QueryParam("shard"); param != "" {
			value, err := format.ParseStrInt64(param)
			if err != nil {
				return ctx.NoContent(http.StatusBadRequest)
			}
			shard = value
		}

		value := make([]meta.CoordinatorStateSnapshot, 0)
		for _, tx := range s.api.Transactions() {
			if uint64(len(value)) >= limit {
				break
			}

			if shard >= 0 && !tx.Transaction.Involves(meta.ShardID(shard)) {
				continue
			}
			value = append(value, tx)
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) transaction() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		id, err := meta.ParseDigest(ctx.Param("id"))
		if err != nil {
			return ctx.NoContent(http.StatusBadRequest)
		}

		value, ok := s.api.Transaction(id)
		if !ok {
			return ctx.NoContent(http.StatusNotFound)
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) evidence() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		value, err := s.api.Evidence()
		if err != nil {
			return ctx.JSON(http.StatusOK, failedResult(err))
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) locks() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		held := s.api.Locks()
		value := make([]lockView, 0, len(held))
		for shard, locks := range held {
			value = append(value, lockView{Shard: shard, Locks: locks})
		}
		sort.Slice(value, func(i, j int) bool {
			return value[i].Shard < value[j].Shard
		})

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) stats() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		value := statsView{Stats: s.api.Stats()}
		if usage, err := util.MemStats(); err == nil {
			value.Memory = &usage
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Value: value,
		})
	}
}

func (s *Dashboard) verifyBlock() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		fields := meta.BlockShardFields{}
		err := util.ReadJSONFromBody(ctx.Request().Body, maxBodySize, &fields)
		if err != nil {
			return ctx.NoContent(http.StatusBadRequest)
		}

		if err := s.api.VerifyBlock(fields); err != nil {
			return ctx.JSON(http.StatusOK, failedResult(err))
		}

		return ctx.JSON(http.StatusOK, &JSONResult{
			Code: succeed,
		})
	}
}
