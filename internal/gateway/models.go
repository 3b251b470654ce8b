package gateway

// Fixed ids echoed back by the user and task endpoints.
const (
	UserID uint64 = 1111
	TaskID uint64 = 2222
)

// Topics the gateway publishes on.
const (
	TopicUser = "user"
	TopicTask = "task"
)

type CreateUser struct {
	Username string `json:"username" binding:"required"`
}

type User struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

type CreateTask struct {
	Taskname string `json:"taskname" binding:"required"`
}

type Task struct {
	ID       uint64 `json:"id"`
	Taskname string `json:"taskname"`
}

func newUser(in CreateUser) User {
	return User{ID: UserID, Username: in.Username}
}

func newTask(in CreateTask) Task {
	return Task{ID: TaskID, Taskname: in.Taskname}
}
