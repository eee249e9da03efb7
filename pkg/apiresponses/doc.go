// Package apiresponses provides the standardized HTTP error body and
// response helpers shared by the hub API and the hubctl client without
// import cycles.
package apiresponses
