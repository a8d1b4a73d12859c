package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/basket/taskbot/internal/command"
)

// Inline-keyboard callback payloads carry the listing state of the "Next"
// button: tag, status token, offset, and the id of the user who asked for
// the listing (so a "me" filter stays pinned to them).
const (
	callbackTag   = "tasks"
	callbackDelim = "|"
)

func encodeListCallback(filter command.StatusFilter, offset int, userID int64) string {
	token := "all"
	switch {
	case filter.Mine:
		token = "me"
	case filter.Status != "":
		token = strings.ToLower(string(filter.Status))
	}
	return strings.Join([]string{
		callbackTag,
		token,
		strconv.Itoa(offset),
		strconv.FormatInt(userID, 10),
	}, callbackDelim)
}

func parseListCallback(data string) (statusToken string, offset int, userID int64, err error) {
	parts := strings.Split(data, callbackDelim)
	if len(parts) != 4 || parts[0] != callbackTag {
		return "", 0, 0, fmt.Errorf("not a listing callback: %q", data)
	}
	offset, err = strconv.Atoi(parts[2])
	if err != nil || offset < 0 {
		return "", 0, 0, fmt.Errorf("bad offset in callback %q", data)
	}
	userID, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad user id in callback %q", data)
	}
	return parts[1], offset, userID, nil
}
