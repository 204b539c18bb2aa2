package executor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/srand/jolt/taskflow/pkg/log"
	"github.com/srand/jolt/taskflow/pkg/utils"
)

// A queued task as reported by the HTTP API.
//
// Tasks may only be inspected while they sit in the queue; once popped
// they belong to the worker running them.
type TaskInfo struct {
	ID            uint64 `json:"id"`
	Kernel        string `json:"kernel"`
	ProcessName   string `json:"process_name"`
	Attempts      int    `json:"attempts"`
	AttemptsLimit int    `json:"attempts_limit"`
	Inputs        int    `json:"inputs"`
	MemoryNeeded  uint64 `json:"memory_needed"`
}

func newTaskInfo(task *Task) TaskInfo {
	return TaskInfo{
		ID:            task.ID(),
		Kernel:        task.Kernel().Name(),
		ProcessName:   task.ProcessName(),
		Attempts:      task.Attempts(),
		AttemptsLimit: task.AttemptsLimit(),
		Inputs:        len(task.Inputs()),
		MemoryNeeded:  task.MemoryNeeded(),
	}
}

func NewHttpHandler(executor *Executor, r *echo.Echo) http.Handler {
	r.GET("/api/v1/executor/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, executor.Stats())
	})

	r.GET("/api/v1/executor/tasks", func(c echo.Context) error {
		return c.JSON(http.StatusOK, executor.QueuedTasks())
	})

	r.GET("/api/v1/executor/tasks/:id", func(c echo.Context) error {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			return utils.HttpError(fmt.Errorf("%w: invalid task id %q", utils.ErrBadRequest, c.Param("id")))
		}

		task, err := executor.QueuedTask(id)
		if err != nil {
			return utils.HttpError(err)
		}
		return c.JSON(http.StatusOK, task)
	})

	// Stream task events as newline delimited JSON until the client
	// disconnects or the executor is closed.
	r.GET("/api/v1/executor/events", func(c echo.Context) error {
		consumer := executor.Subscribe()
		defer consumer.Close()

		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c.Response().WriteHeader(http.StatusOK)
		c.Response().Flush()

		encoder := json.NewEncoder(c.Response())
		ctx := c.Request().Context()

		for {
			select {
			case <-ctx.Done():
				return nil

			case event, ok := <-consumer.Chan:
				if !ok {
					return nil
				}
				if err := encoder.Encode(event); err != nil {
					log.Debug("Event stream closed:", err)
					return nil
				}
				c.Response().Flush()
			}
		}
	})

	r.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(executor.Registry(), promhttp.HandlerOpts{})))

	return r
}
