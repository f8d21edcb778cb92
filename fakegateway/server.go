// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package fakegateway is an in-process stand-in for the photo analysis
// gateway. Detection and geocoding are deterministic, which makes it suitable
// for end to end tests and for trying the CLI without the real services.
package fakegateway

import (
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jcodagnone/geofoto/account"
	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/gateway"
	"github.com/jcodagnone/geofoto/geocoding"
	"github.com/jcodagnone/geofoto/spatial"
)

const (
	// MaxFileSize is the largest upload accepted.
	MaxFileSize = 50 << 20

	// MethodPseudoCoordinates tags geocodes derived from the image position.
	MethodPseudoCoordinates = "pseudo_coordinates"

	// DefaultUser and DefaultPassword are the seeded credentials.
	DefaultUser     = "admin"
	DefaultPassword = "password"

	pseudoSpan = 0.1 // degrees covered by a 1000 px image
)

// DefaultOrigin is the point pseudo coordinates are centered on.
var DefaultOrigin = spatial.Coordinates{Latitude: 55.7558, Longitude: 37.6173}

var allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Detector finds buildings in an image.
type Detector func(filename string, content []byte) ([]detection.Building, error)

// DefaultDetector derives zero to three buildings from a hash of the content.
func DefaultDetector(_ string, content []byte) ([]detection.Building, error) {
	h := fnv.New32a()
	_, _ = h.Write(content)
	sum := h.Sum32()

	n := int(sum % 4)
	buildings := make([]detection.Building, n)

	for i := range buildings {
		x := float64(50 + i*300)
		y := float64(100 + (sum>>8)%400)
		w, ht := 200.0, 150.0

		buildings[i] = detection.Building{
			BBox:       detection.BBox{X: x, Y: y, Width: w, Height: ht},
			Center:     detection.Point{X: x + w/2, Y: y + ht/2},
			Area:       math.Round(w*ht/10_000*100) / 100, // percent of a 1000x1000 image
			Confidence: 0.9 - 0.1*float64(i),
			Class:      detection.DefaultClass,
		}
	}

	return buildings, nil
}

// Config of a Server. Zero values use the defaults.
type Config struct {
	Origin   *spatial.Coordinates
	Detector Detector
	Now      func() time.Time
}

type storedFile struct {
	size     int64
	modified time.Time
}

type user struct {
	account.User
	password string
}

// Server fakes the gateway routes used by the client.
type Server struct {
	origin   spatial.Coordinates
	detector Detector
	now      func() time.Time

	geocodingOutage  atomic.Bool
	detectionFailure atomic.Bool
	unrecognized     atomic.Bool

	mu       sync.Mutex
	files    map[string]storedFile
	users    map[string]*user
	tokens   map[string]string
	datasets []gateway.Dataset
}

// NewServer creates a fake gateway with the default account seeded.
func NewServer(cfg Config) *Server {
	s := &Server{
		origin:   DefaultOrigin,
		detector: cfg.Detector,
		now:      cfg.Now,
		files:    make(map[string]storedFile),
		tokens:   make(map[string]string),
		users: map[string]*user{
			DefaultUser: {
				User:     account.User{Username: DefaultUser, Email: "admin@example.com", FullName: "Administrator"},
				password: DefaultPassword,
			},
		},
	}

	if cfg.Origin != nil {
		s.origin = *cfg.Origin
	}

	if s.detector == nil {
		s.detector = DefaultDetector
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// SetGeocodingOutage makes every geocoding route fail with 503.
func (s *Server) SetGeocodingOutage(down bool) {
	s.geocodingOutage.Store(down)
}

// SetDetectionFailure makes uploads report a CV failure.
func (s *Server) SetDetectionFailure(fail bool) {
	s.detectionFailure.Store(fail)
}

// SetUnrecognizedPayloads makes uploads answer without cv_results.
func (s *Server) SetUnrecognizedPayloads(on bool) {
	s.unrecognized.Store(on)
}

// Router returns the gin engine serving the gateway under /api.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	api.GET("/health", s.health)

	api.POST("/photo_upload/upload", s.upload)
	api.POST("/photo_upload/upload/batch", s.uploadBatch)
	api.GET("/photo_upload/files", s.listFiles)
	api.POST("/cv_processing/process-image", s.processImage)

	geo := api.Group("/geocoding", s.requireGeocoder)
	geo.GET("/geocode", s.geocodeAddress)
	geo.GET("/reverse-geocode", s.reverseGeocode)
	geo.GET("/elevation", s.elevation)
	geo.POST("/geocode-building", s.geocodeBuilding)
	geo.POST("/geocode-buildings", s.geocodeBuildings)

	api.POST("/auth/login", s.login)
	api.POST("/auth/register", s.register)
	api.GET("/auth/me", s.me)

	api.GET("/datasets", s.listDatasets)
	api.POST("/datasets", s.createDataset)

	return r
}

// Run serves the fake gateway on addr until it fails.
func (s *Server) Run(addr string) error {
	log.Printf("Fake gateway listening on http://%s/api", addr)

	return s.Router().Run(addr)
}

func (s *Server) health(ctx *gin.Context) {
	services := map[string]string{
		"photo-upload":  gateway.StatusHealthy,
		"cv-processing": gateway.StatusHealthy,
		"geocoding":     gateway.StatusHealthy,
		"auth":          gateway.StatusHealthy,
	}

	if s.detectionFailure.Load() {
		services["cv-processing"] = "unhealthy"
	}

	if s.geocodingOutage.Load() {
		services["geocoding"] = "unhealthy"
	}

	ctx.JSON(http.StatusOK, gateway.Health{Status: gateway.StatusHealthy, Service: "api-gateway", Services: services})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		return nil, fmt.Errorf("invalid file format: %s", fh.Filename)
	}

	if fh.Size > MaxFileSize {
		return nil, fmt.Errorf("file too large: %s", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// accept stores an upload and builds the detection payload.
func (s *Server) accept(fh *multipart.FileHeader) (gin.H, error) {
	content, err := readUpload(fh)
	if err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	filename := fileID + strings.ToLower(filepath.Ext(fh.Filename))

	s.mu.Lock()
	s.files[filename] = storedFile{size: int64(len(content)), modified: s.now()}
	s.mu.Unlock()

	resp := gin.H{
		"success":       true,
		"file_id":       fileID,
		"filename":      filename,
		"original_name": fh.Filename,
		"file_size":     len(content),
		"message":       "file uploaded and processed",
	}

	if s.unrecognized.Load() {
		return resp, nil
	}

	resp["cv_results"] = s.detect(fh.Filename, content)

	return resp, nil
}

func (s *Server) detect(filename string, content []byte) gin.H {
	if s.detectionFailure.Load() {
		return gin.H{"status": detection.StatusError, "message": "CV processing failed with status 500"}
	}

	buildings, err := s.detector(filename, content)
	if err != nil {
		return gin.H{"status": detection.StatusError, "message": err.Error()}
	}

	if buildings == nil {
		buildings = []detection.Building{}
	}

	return gin.H{
		"status":             detection.StatusSuccess,
		"buildings_detected": len(buildings),
		"buildings":          buildings,
	}
}

func (s *Server) upload(ctx *gin.Context) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})

		return
	}

	resp, err := s.accept(fh)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) uploadBatch(ctx *gin.Context) {
	form, err := ctx.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "files are required"})

		return
	}

	results := make([]gin.H, 0, len(form.File["files"]))

	for _, fh := range form.File["files"] {
		resp, err := s.accept(fh)
		if err != nil {
			results = append(results, gin.H{"filename": fh.Filename, "status": "error", "error": "400: " + err.Error()})

			continue
		}

		results = append(results, gin.H{"filename": fh.Filename, "status": "success", "data": resp})
	}

	ctx.JSON(http.StatusOK, gin.H{"processed": len(results), "results": results})
}

func (s *Server) listFiles(ctx *gin.Context) {
	s.mu.Lock()
	files := make([]gin.H, 0, len(s.files))

	for name, f := range s.files {
		files = append(files, gin.H{
			"filename": name,
			"size":     f.size,
			"modified": float64(f.modified.UnixNano()) / float64(time.Second),
		})
	}
	s.mu.Unlock()

	sort.Slice(files, func(i, j int) bool {
		return files[i]["filename"].(string) < files[j]["filename"].(string)
	})

	ctx.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) processImage(ctx *gin.Context) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})

		return
	}

	content, err := readUpload(fh)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})

		return
	}

	cv := s.detect(fh.Filename, content)
	if cv["status"] != detection.StatusSuccess {
		ctx.JSON(http.StatusInternalServerError, gin.H{"detail": cv["message"]})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": gin.H{
			"buildings_detected": cv["buildings_detected"],
			"buildings":          cv["buildings"],
			"file_info":          gin.H{"original_filename": fh.Filename},
		},
	})
}

func (s *Server) requireGeocoder(ctx *gin.Context) {
	if s.geocodingOutage.Load() {
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "geocoding service unavailable"})

		return
	}

	ctx.Next()
}

func queryCoordinates(ctx *gin.Context) (*spatial.Coordinates, bool) {
	lat, errLat := strconv.ParseFloat(ctx.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(ctx.Query("lng"), 64)

	if errLat != nil || errLng != nil || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "lat and lng must be valid coordinates"})

		return nil, false
	}

	return &spatial.Coordinates{Latitude: lat, Longitude: lng}, true
}

func addressOf(c *spatial.Coordinates) *spatial.Address {
	return &spatial.Address{
		FormattedAddress: fmt.Sprintf("%.5f, %.5f", c.Latitude, c.Longitude),
		Country:          "Fakeland",
		CountryCode:      "zz",
	}
}

func (s *Server) geocodeAddress(ctx *gin.Context) {
	address := strings.TrimSpace(ctx.Query("address"))
	if address == "" {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "address is required"})

		return
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(address)))
	sum := h.Sum32()

	// Spread addresses over the pseudo area.
	point := s.pseudoCoordinates(detection.Point{X: float64(sum % 1000), Y: float64((sum >> 10) % 1000)})

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"source":  "fake",
		"result": geocoding.Place{
			Coordinates: *point,
			Address:     spatial.Address{FormattedAddress: address, Country: "Fakeland", CountryCode: "zz"},
			PlaceID:     "1",
		},
	})
}

func (s *Server) reverseGeocode(ctx *gin.Context) {
	point, ok := queryCoordinates(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"source":  "fake",
		"result":  geocoding.Place{Coordinates: *point, Address: *addressOf(point)},
	})
}

func (s *Server) elevation(ctx *gin.Context) {
	point, ok := queryCoordinates(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, geocoding.ElevationResponse{
		Success:     true,
		Result:      geocoding.Elevation{Elevation: math.Round(math.Abs(point.Latitude)*3*10) / 10, Source: "fake"},
		Coordinates: *point,
	})
}

// pseudoCoordinates maps an image position to a point near the origin.
func (s *Server) pseudoCoordinates(center detection.Point) *spatial.Coordinates {
	return &spatial.Coordinates{
		Latitude:  s.origin.Latitude + (center.X/1000-0.5)*pseudoSpan,
		Longitude: s.origin.Longitude + (center.Y/1000-0.5)*pseudoSpan,
	}
}

func (s *Server) geocode(req *geocoding.BuildingRequest) geocoding.BuildingGeocode {
	ok := true
	point := s.pseudoCoordinates(req.Building.Center)

	return geocoding.BuildingGeocode{
		Success:     &ok,
		BuildingID:  req.FileID,
		Coordinates: point,
		Address:     addressOf(point),
		Confidence:  req.Building.Confidence,
		Method:      MethodPseudoCoordinates,
	}
}

func (s *Server) geocodeBuilding(ctx *gin.Context) {
	var req geocoding.BuildingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, s.geocode(&req))
}

func (s *Server) geocodeBuildings(ctx *gin.Context) {
	var reqs []geocoding.BuildingRequest
	if err := ctx.ShouldBindJSON(&reqs); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})

		return
	}

	results := make([]geocoding.BuildingGeocode, len(reqs))
	successful := 0

	for i := range reqs {
		if reqs[i].Building.Confidence <= 0 {
			failed := false
			results[i] = geocoding.BuildingGeocode{Success: &failed, BuildingID: reqs[i].FileID, Error: "building has no confidence"}

			continue
		}

		results[i] = s.geocode(&reqs[i])
		successful++
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"buildings":  results,
		"processed":  len(results),
		"successful": successful,
	})
}

func (s *Server) login(ctx *gin.Context) {
	username, password := ctx.Query("username"), ctx.Query("password")

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || u.password != password {
		ctx.Header("WWW-Authenticate", "Bearer")
		ctx.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})

		return
	}

	token := uuid.NewString()
	s.tokens[token] = username

	ctx.JSON(http.StatusOK, account.Token{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) register(ctx *gin.Context) {
	username, email, password := ctx.Query("username"), ctx.Query("email"), ctx.Query("password")
	if username == "" || email == "" || password == "" {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username, email and password are required"})

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"detail": "Username already registered"})

		return
	}

	s.users[username] = &user{User: account.User{Username: username, Email: email}, password: password}

	ctx.JSON(http.StatusOK, account.Registration{Message: "User registered successfully", Username: username})
}

func (s *Server) me(ctx *gin.Context) {
	token, found := strings.CutPrefix(ctx.GetHeader("Authorization"), "Bearer ")

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.tokens[token]
	if !found || !ok {
		ctx.Header("WWW-Authenticate", "Bearer")
		ctx.JSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})

		return
	}

	ctx.JSON(http.StatusOK, s.users[username].User)
}

func (s *Server) listDatasets(ctx *gin.Context) {
	s.mu.Lock()
	datasets := append([]gateway.Dataset{}, s.datasets...)
	s.mu.Unlock()

	ctx.JSON(http.StatusOK, datasets)
}

func (s *Server) createDataset(ctx *gin.Context) {
	var req gateway.Dataset
	if err := ctx.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "name is required"})

		return
	}

	now := s.now().UTC()

	s.mu.Lock()
	req.ID = strconv.Itoa(len(s.datasets) + 1)
	req.CreatedAt = &now
	s.datasets = append(s.datasets, req)
	s.mu.Unlock()

	ctx.JSON(http.StatusCreated, req)
}
