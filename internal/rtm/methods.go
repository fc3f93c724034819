package rtm

import (
	"bytes"
	"context"
	"encoding/json"
)

// flexList decodes either a JSON array or a single object. The API returns
// a bare object where a list holds exactly one element.
type flexList[T any] []T

func (l *flexList[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = flexList[T]{one}
	return nil
}

type listsResponse struct {
	Lists struct {
		List flexList[struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}] `json:"list"`
	} `json:"lists"`
}

// Lists returns list name to list id.
func (c *Client) Lists(ctx context.Context) (map[string]string, error) {
	var out listsResponse
	if err := c.Call(ctx, "rtm.lists.getList", nil, &out); err != nil {
		return nil, err
	}

	lists := make(map[string]string, len(out.Lists.List))
	for _, l := range out.Lists.List {
		lists[l.Name] = l.ID
	}
	return lists, nil
}

// RawTask is one task instance as returned by the API. Due is an RFC 3339
// timestamp, or empty when the task has no due date.
type RawTask struct {
	ID     string
	ListID string
	Name   string
	Due    string
}

type tasksResponse struct {
	Tasks struct {
		List flexList[struct {
			ID         string `json:"id"`
			TaskSeries flexList[struct {
				Name string `json:"name"`
				Task flexList[struct {
					ID  string `json:"id"`
					Due string `json:"due"`
				}] `json:"task"`
			}] `json:"taskseries"`
		}] `json:"list"`
	} `json:"tasks"`
}

// Tasks runs rtm.tasks.getList with filter, restricted to listID when it
// is not empty, and flattens lists and task series into task instances.
func (c *Client) Tasks(ctx context.Context, filter, listID string) ([]RawTask, error) {
	params := map[string]string{}
	if filter != "" {
		params["filter"] = filter
	}
	if listID != "" {
		params["list_id"] = listID
	}

	var out tasksResponse
	if err := c.Call(ctx, "rtm.tasks.getList", params, &out); err != nil {
		return nil, err
	}

	var tasks []RawTask
	for _, l := range out.Tasks.List {
		for _, series := range l.TaskSeries {
			for _, t := range series.Task {
				tasks = append(tasks, RawTask{ID: t.ID, ListID: l.ID, Name: series.Name, Due: t.Due})
			}
		}
	}
	return tasks, nil
}

// Frob starts the desktop authentication flow.
func (c *Client) Frob(ctx context.Context) (string, error) {
	var out struct {
		Frob string `json:"frob"`
	}
	if err := c.Call(ctx, "rtm.auth.getFrob", nil, &out); err != nil {
		return "", err
	}
	return out.Frob, nil
}

// AuthURL is the page the user visits to grant perms ("read", "write",
// "delete") to the frob.
func (c *Client) AuthURL(frob, perms string) string {
	params := map[string]string{
		"api_key": c.cfg.APIKey,
		"frob":    frob,
		"perms":   perms,
	}
	return AuthEndpoint + "?" + signedQuery(c.cfg.SharedSecret, params)
}

// Auth is the result of a token exchange.
type Auth struct {
	Token    string
	Perms    string
	Username string
}

// Token exchanges an authorized frob for a token.
func (c *Client) Token(ctx context.Context, frob string) (Auth, error) {
	var out struct {
		Auth struct {
			Token string `json:"token"`
			Perms string `json:"perms"`
			User  struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"auth"`
	}
	if err := c.Call(ctx, "rtm.auth.getToken", map[string]string{"frob": frob}, &out); err != nil {
		return Auth{}, err
	}
	return Auth{Token: out.Auth.Token, Perms: out.Auth.Perms, Username: out.Auth.User.Username}, nil
}
