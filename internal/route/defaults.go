package route

import (
	"net/http"
	"strings"
)

// Notification endpoint paths on the notification service.
const (
	NotifySignupPath = "/notify-signup"
	NotifyLoginPath  = "/notify-login"
	NotifyUploadPath = "/notify-upload"
)

// UploadPart is the multipart field carrying the uploaded beat.
const UploadPart = "beat"

var userMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// Defaults returns the built-in route table for the user/file and notification services.
func Defaults(userFileURL, notificationURL string) []Route {
	notifyURL := func(path string) string {
		return strings.TrimSuffix(notificationURL, "/") + path
	}
	userFileURL = strings.TrimSuffix(userFileURL, "/")

	return []Route{
		{
			Name:    "signup",
			Methods: userMethods,
			Pattern: "/user/signup",
			Target:  userFileURL,
			Notify: &NotificationRule{
				URL:      notifyURL(NotifySignupPath),
				Statuses: []int{http.StatusOK, http.StatusCreated},
			},
		},
		{
			Name:    "login",
			Methods: userMethods,
			Pattern: "/user/login",
			Target:  userFileURL,
			Notify: &NotificationRule{
				URL:      notifyURL(NotifyLoginPath),
				Statuses: []int{http.StatusOK, http.StatusCreated},
			},
		},
		{
			Name:    "user",
			Methods: userMethods,
			Pattern: "/user/*",
			Target:  userFileURL,
		},
		{
			Name:    "upload",
			Methods: []string{http.MethodPost},
			Pattern: "/beats/upload",
			Target:  userFileURL,
			Notify: &NotificationRule{
				URL:      notifyURL(NotifyUploadPath),
				Statuses: []int{http.StatusCreated},
			},
			RequiredPart: UploadPart,
		},
	}
}
