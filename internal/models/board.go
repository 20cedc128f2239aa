package models

// Board is the column view of a task list. Columns are filters over the list
// and hold no state of their own.
type Board struct {
	OnProgress []Task `json:"onProgress"`
	Pending    []Task `json:"pending"`
	Completed  []Task `json:"completed"`
}

// GroupByStatus places every task in the column matching its status, keeping
// list order. Tasks with a status outside the three columns are not shown.
func GroupByStatus(tasks []Task) Board {
	board := Board{
		OnProgress: []Task{},
		Pending:    []Task{},
		Completed:  []Task{},
	}
	for _, task := range tasks {
		switch task.Status {
		case StatusOnProgress:
			board.OnProgress = append(board.OnProgress, task)
		case StatusPending:
			board.Pending = append(board.Pending, task)
		case StatusCompleted:
			board.Completed = append(board.Completed, task)
		}
	}
	return board
}

func (b Board) Column(status Status) []Task {
	switch status {
	case StatusOnProgress:
		return b.OnProgress
	case StatusPending:
		return b.Pending
	case StatusCompleted:
		return b.Completed
	}
	return nil
}
